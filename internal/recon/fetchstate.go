package recon

// Phase is the lifecycle of one fetched resource.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// FetchState tracks one resource: idle, loading, ready with data, or failed
// with a message. Data is only meaningful when ready.
type FetchState[T any] struct {
	Phase Phase
	Data  T
	Err   string
}

func Idle[T any]() FetchState[T] { return FetchState[T]{Phase: PhaseIdle} }

func Loading[T any]() FetchState[T] { return FetchState[T]{Phase: PhaseLoading} }

func Ready[T any](data T) FetchState[T] { return FetchState[T]{Phase: PhaseReady, Data: data} }

func Failed[T any](err error) FetchState[T] {
	return FetchState[T]{Phase: PhaseError, Err: err.Error()}
}

// IsReady reports whether data is available.
func (s FetchState[T]) IsReady() bool { return s.Phase == PhaseReady }
