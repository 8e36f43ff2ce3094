package session

import (
	"go-image-filter/pkg/models"
)

// Event is an input to the Machine
type Event interface {
	eventName() string
}

// FileSelected replaces the current image. OriginalURI is the preview reference.
type FileSelected struct {
	Image       []byte
	Filename    string
	OriginalURI string
}

// AlgorithmSelected changes the algorithm; AlgorithmNone deselects it
type AlgorithmSelected struct {
	Algorithm models.Algorithm
	Canny     *models.CannyParams
}

// KernelSizeSelected changes the kernel size
type KernelSizeSelected struct {
	Size int
}

// Submit re-issues the current request without changing any input
type Submit struct{}

// Resolved delivers the result of the request numbered Seq
type Resolved struct {
	Seq    uint64
	Result models.ProcessingResult
}

// Reset returns the machine to its initial state
type Reset struct{}

func (FileSelected) eventName() string       { return "file_selected" }
func (AlgorithmSelected) eventName() string  { return "algorithm_selected" }
func (KernelSizeSelected) eventName() string { return "kernel_size_selected" }
func (Submit) eventName() string             { return "submit" }
func (Resolved) eventName() string           { return "resolved" }
func (Reset) eventName() string              { return "reset" }

// EventName returns a stable name for logging
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// Snapshot is a copy of the machine state
type Snapshot struct {
	Status     models.Status
	Images     models.UploadedImage
	Filename   string
	Algorithm  models.Algorithm
	KernelSize int
	Canny      *models.CannyParams
	HasFile    bool

	// Seq is the number of the most recently issued request
	Seq       uint64
	ErrorKind models.ErrorKind
	Message   string
}

// Command asks the owner of the machine to run Request and report back with Resolved
type Command struct {
	Request models.ProcessingRequest
}

// Outcome is the result of a single Dispatch
type Outcome struct {
	Snapshot Snapshot
	Command  *Command

	// Stale is set when a Resolved event was dropped because a newer request exists
	Stale bool
}

// Machine holds the processing state of one session. It performs no I/O and is not
// safe for concurrent use; Controller serialises access.
type Machine struct {
	state Snapshot
	image []byte
}

// NewMachine returns a machine in the idle state
func NewMachine() *Machine {
	m := &Machine{}
	m.reset()
	return m
}

// Current returns a copy of the state
func (m *Machine) Current() Snapshot {
	s := m.state
	if s.Canny != nil {
		c := *s.Canny
		s.Canny = &c
	}
	return s
}

// Image returns the selected file contents, or nil when none is selected
func (m *Machine) Image() []byte {
	return m.image
}

// Dispatch applies ev and returns the new state plus a command when a request must be sent
func (m *Machine) Dispatch(ev Event) Outcome {
	var cmd *Command
	stale := false

	switch e := ev.(type) {
	case FileSelected:
		if len(e.Image) == 0 {
			break
		}
		m.image = append([]byte(nil), e.Image...)
		m.state.HasFile = true
		m.state.Filename = e.Filename
		m.state.Images = models.UploadedImage{Original: e.OriginalURI}
		cmd = m.trigger()

	case AlgorithmSelected:
		if e.Algorithm == m.state.Algorithm && cannyEqual(e.Canny, m.state.Canny) {
			break
		}
		m.state.Algorithm = e.Algorithm
		m.state.Canny = nil
		if e.Canny != nil {
			c := *e.Canny
			m.state.Canny = &c
		}
		cmd = m.trigger()

	case KernelSizeSelected:
		if e.Size == m.state.KernelSize {
			break
		}
		m.state.KernelSize = e.Size
		cmd = m.trigger()

	case Submit:
		cmd = m.trigger()

	case Resolved:
		if e.Seq != m.state.Seq || m.state.Status != models.StatusLoading {
			stale = true
			break
		}
		if e.Result.OK {
			m.state.Status = models.StatusSuccess
			m.state.Images.Processed = models.DataURI(e.Result.Data)
			m.state.ErrorKind = ""
			m.state.Message = ""
		} else {
			m.state.Status = models.StatusError
			m.state.ErrorKind = e.Result.Kind
			m.state.Message = e.Result.Message
		}

	case Reset:
		m.reset()
	}

	return Outcome{Snapshot: m.Current(), Command: cmd, Stale: stale}
}

// trigger issues a new request when both a file and an algorithm are selected
func (m *Machine) trigger() *Command {
	if !m.state.HasFile || !m.state.Algorithm.Valid() {
		return nil
	}

	m.state.Seq++
	m.state.Status = models.StatusLoading
	m.state.ErrorKind = ""
	m.state.Message = ""

	req := models.ProcessingRequest{
		Image:      m.image,
		Filename:   m.state.Filename,
		Algorithm:  m.state.Algorithm,
		KernelSize: m.state.KernelSize,
		Seq:        m.state.Seq,
	}
	if m.state.Canny != nil && m.state.Algorithm == models.AlgorithmCanny {
		c := *m.state.Canny
		req.Canny = &c
	}
	return &Command{Request: req}
}

// reset clears inputs and images but keeps the sequence counter, so results of
// requests issued before the reset are recognised as stale.
func (m *Machine) reset() {
	seq := m.state.Seq
	m.image = nil
	m.state = Snapshot{
		Status:     models.StatusIdle,
		Algorithm:  models.AlgorithmNone,
		KernelSize: models.DefaultKernelSize,
		Seq:        seq,
	}
}

func cannyEqual(a, b *models.CannyParams) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
