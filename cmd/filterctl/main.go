package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"go-image-filter/internal/backend"
	"go-image-filter/internal/batch"
	"go-image-filter/internal/config"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/processing"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/storage"
	"go-image-filter/pkg/models"
	"go-image-filter/pkg/validation"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("[-] Failed to load config: %v", err)
	}

	imagePtr := flag.String("image", "", "Image to process: local path, file://, http(s):// or azblob:// reference")
	batchPtr := flag.String("batch", "", "Directory whose images are processed concurrently")
	algorithmPtr := flag.String("algorithm", "median", "Filter: median or canny")
	kernelPtr := flag.Int("kernel", models.DefaultKernelSize, "Median kernel size (odd, 3-15)")
	sigmaPtr := flag.Float64("sigma", 0, "Canny sigma (0 uses the backend default)")
	lowPtr := flag.Int("low", 0, "Canny low threshold (0 uses the backend default)")
	highPtr := flag.Int("high", 0, "Canny high threshold (0 uses the backend default)")
	outPtr := flag.String("out", cfg.OutputDir, "Directory for processed images")
	workersPtr := flag.Int("workers", runtime.NumCPU(), "Concurrent requests in batch mode")
	backendPtr := flag.String("backend", cfg.BackendURL, "Processing backend base URL")
	listPtr := flag.Bool("algorithms", false, "List the backend's algorithms and exit")
	verbosePtr := flag.Bool("v", false, "Verbose logging")

	flag.Parse()

	logger.SetLevel(cfg.LogLevel)
	if *verbosePtr {
		logger.SetLevel("debug")
	}
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := validation.NewURLValidator().ValidateBaseURL(*backendPtr); err != nil {
		log.Fatalf("[-] Invalid backend URL: %v", err)
	}
	client := backend.NewClient(*backendPtr, cfg.BackendTimeout)

	if *listPtr {
		if err := listAlgorithms(ctx, client); err != nil {
			log.Fatalf("[-] %v", err)
		}
		return
	}

	opts, err := buildOptions(*algorithmPtr, *kernelPtr, *sigmaPtr, *lowPtr, *highPtr, *workersPtr)
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	var blob storage.ImageFetcher
	if cfg.AzureEnabled() {
		azure, err := storage.NewAzureStorage(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer, cfg.MaxUploadSize)
		if err != nil {
			log.Fatalf("[-] Azure storage: %v", err)
		}
		blob = azure
	}
	local := storage.NewLocalStorage(*outPtr, cfg.MaxUploadSize)
	sources := repository.NewSourceImageRepository(storage.NewHTTPImageFetcher(cfg.MaxUploadSize), blob, local, cfg.MaxUploadSize)
	runner := batch.NewRunner(processing.NewOrchestrator(client), sources, local)

	var results []batch.Result
	switch {
	case *batchPtr != "":
		results, err = runner.ProcessDir(ctx, *batchPtr, opts)
	case *imagePtr != "":
		var res batch.Result
		res, err = runner.ProcessOne(ctx, *imagePtr, opts)
		results = []batch.Result{res}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	failed := 0
	for _, res := range results {
		if res.Status == models.StatusSuccess {
			fmt.Printf("[+] %s -> %s (%s)\n", res.Source, res.Location, res.Duration.Round(time.Millisecond))
			continue
		}
		failed++
		fmt.Printf("[-] %s: %s error: %s\n", res.Source, res.ErrorKind, res.Message)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func buildOptions(algorithm string, kernel int, sigma float64, low, high, workers int) (batch.Options, error) {
	alg, err := validation.ValidateAlgorithm(algorithm)
	if err != nil {
		return batch.Options{}, err
	}
	opts := batch.Options{Algorithm: alg, KernelSize: kernel, Workers: workers}
	if alg == models.AlgorithmMedian {
		if err := validation.ValidateBackendKernelSize(kernel); err != nil {
			return batch.Options{}, err
		}
	}
	if alg == models.AlgorithmCanny && (sigma != 0 || low != 0 || high != 0) {
		opts.Canny = &models.CannyParams{Sigma: sigma, LowThreshold: low, HighThreshold: high}
		if err := validation.ValidateCanny(opts.Canny); err != nil {
			return batch.Options{}, err
		}
	}
	return opts, nil
}

func listAlgorithms(ctx context.Context, client *backend.Client) error {
	list, err := client.Algorithms(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(list.Algorithms))
	for name := range list.Algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-10s %s\n", name, list.Algorithms[name])
		info, err := client.AlgorithmInfo(ctx, name)
		if err != nil {
			continue
		}
		if len(info.Parameters) > 0 {
			params, _ := json.Marshal(info.Parameters)
			fmt.Printf("%-10s parameters: %s\n", "", params)
		}
	}
	return nil
}
