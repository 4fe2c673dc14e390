package common

// Virtual key codes delivered by the window layer. Values match GLFW key codes, which use
// ASCII for printable keys.
const (
	KeySpace = 32  // toggles ray tracing on and off
	KeyP     = 80  // pauses light animation
	KeyD     = 68  // toggles the denoise compositor
	KeyR     = 82  // restarts frame accumulation
	KeyEsc   = 256 // closes the window
)
