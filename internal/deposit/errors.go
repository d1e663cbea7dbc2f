package deposit

import (
	"errors"
	"fmt"
)

var errEmptyManifest = errors.New("deposit: submission has no files")

func errUnretrievableFile(path string) error {
	return fmt.Errorf("deposit: file %q has no retrievable location", path)
}
