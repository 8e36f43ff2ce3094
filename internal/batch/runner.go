package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go-image-filter/internal/logger"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/session"
	"go-image-filter/internal/storage"
	"go-image-filter/pkg/models"
)

// imageExtensions are the file types picked up from a batch directory
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Options select the filter applied to every image
type Options struct {
	Algorithm  models.Algorithm
	KernelSize int
	Canny      *models.CannyParams
	Workers    int
}

// Result is the outcome for one input
type Result struct {
	Source    string
	Location  string
	Status    models.Status
	ErrorKind models.ErrorKind
	Message   string
	Duration  time.Duration
}

// Runner drives one session per image through the processor and stores the results
type Runner struct {
	processor session.Processor
	sources   repository.ImageRepository
	sink      storage.ResultSink
	now       func() time.Time
}

// NewRunner creates a runner
func NewRunner(processor session.Processor, sources repository.ImageRepository, sink storage.ResultSink) *Runner {
	return &Runner{processor: processor, sources: sources, sink: sink, now: time.Now}
}

// ProcessOne loads ref, filters it and saves the processed image. Processing
// failures are reported in the Result; only setup failures return an error.
func (r *Runner) ProcessOne(ctx context.Context, ref string, opts Options) (Result, error) {
	start := r.now()
	res := Result{Source: ref}

	img, err := r.sources.FetchImage(ctx, ref)
	if err != nil {
		return res, err
	}

	ctrl := session.NewController(fmt.Sprintf("cli-%s", filepath.Base(ref)), r.processor, nil)
	defer ctrl.Close()

	ctrl.Dispatch(session.FileSelected{Image: img.Data, Filename: img.Filename})
	ctrl.Dispatch(session.KernelSizeSelected{Size: opts.KernelSize})
	snap := ctrl.Dispatch(session.AlgorithmSelected{Algorithm: opts.Algorithm, Canny: opts.Canny})
	if snap.Status != models.StatusLoading {
		ctrl.Dispatch(session.Submit{})
	}
	if err := ctrl.Wait(ctx); err != nil {
		return res, err
	}

	snap = ctrl.Current()
	res.Status = snap.Status
	res.ErrorKind = snap.ErrorKind
	res.Message = snap.Message
	res.Duration = r.now().Sub(start)
	if snap.Status != models.StatusSuccess {
		return res, nil
	}

	data, err := models.DecodeDataURI(snap.Images.Processed)
	if err != nil {
		return res, fmt.Errorf("decode processed image: %w", err)
	}
	name := outputName(ref, models.DownloadFilename(snap.Algorithm, snap.KernelSize, r.now()))
	res.Location, err = r.sink.Save(ctx, name, data)
	if err != nil {
		return res, fmt.Errorf("save processed image: %w", err)
	}
	return res, nil
}

// ProcessDir filters every image file in dir with at most opts.Workers in flight.
// Results are ordered like the directory listing.
func (r *Runner) ProcessDir(ctx context.Context, dir string, opts Options) ([]Result, error) {
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			res, err := r.ProcessOne(gctx, file, opts)
			if err != nil {
				logger.WithError(err).WithField("file", file).Error("Batch item failed")
				res.Status = models.StatusError
				res.Message = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	logger.WithFields(logrus.Fields{
		"dir":     dir,
		"files":   len(files),
		"workers": workers,
	}).Info("Batch completed")
	return results, nil
}

// ListImages returns the image files directly inside dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// outputName prefixes the download name with the source name so batch outputs don't collide
func outputName(ref, download string) string {
	base := filepath.Base(ref)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return download
	}
	return base + "_" + download
}
