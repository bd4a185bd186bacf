package utils

import "io"

// DrainAndClose reads rc to EOF and closes it. A nil rc is a no-op.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}
