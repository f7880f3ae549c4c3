package transfer

import "fmt"

const progressBarWidth = 50

// PrintProgress renders a simple in-place progress bar on stdout.
func PrintProgress(current, total int64) {
	if total <= 0 {
		return
	}
	progress := float64(current) / float64(total)
	pos := int(progressBarWidth * progress)

	fmt.Print("\r[")
	for i := 0; i < progressBarWidth; i++ {
		switch {
		case i < pos:
			fmt.Print("=")
		case i == pos:
			fmt.Print(">")
		default:
			fmt.Print(" ")
		}
	}
	fmt.Printf("] %d %% (%d KB / %d KB)", int(progress*100), current/1024, total/1024)
}
