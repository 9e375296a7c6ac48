//go:build !unix

package relocate

import (
	"errors"
	"os"
)

// Without EXDEV, any link error between distinct volumes takes the copy path.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}
