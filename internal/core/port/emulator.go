package port

// Emulator is one emulated meter device owning its sockets.
type Emulator interface {
	Name() string
	Start() error
	Stop()
	Healthy() bool
}
