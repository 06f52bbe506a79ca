package compqueue

import (
	"fmt"
	"os"
	"runtime"
)

// windowsCmdLineLimit is the practical ceiling under the ~32k OS limit
// at which a response file is substituted for a raw include-path list.
const windowsCmdLineLimit = 30000

// estimateCommandLine sums argument lengths with a 10% margin, matching
// the estimate used to decide whether a response file is needed.
func estimateCommandLine(args []string) int {
	total := 0
	for _, a := range args {
		total += len(a) + 1
	}
	return total + total/10
}

// maybeResponseFile rewrites args to use a compiler @file response file
// for the include-path portion when, on Windows, the estimated command
// line would exceed windowsCmdLineLimit. On non-Windows platforms (and
// when the estimate is within bounds) args is returned unchanged. The
// returned cleanup func removes the temp file, if one was created.
func maybeResponseFile(compiler string, flags, includes []string, rest []string) (args []string, cleanup func(), err error) {
	cleanup = func() {}
	if runtime.GOOS != "windows" {
		return append(append(append([]string{}, flags...), includeArgs(includes)...), rest...), cleanup, nil
	}

	full := append(append([]string{}, flags...), includeArgs(includes)...)
	full = append(full, rest...)
	if estimateCommandLine(full) <= windowsCmdLineLimit {
		return full, cleanup, nil
	}

	f, err := os.CreateTemp("", "fbuildd-resp-*.txt")
	if err != nil {
		return nil, cleanup, err
	}
	for _, inc := range includeArgs(includes) {
		if _, err := fmt.Fprintln(f, inc); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, cleanup, err
		}
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return nil, cleanup, err
	}

	cleanup = func() { os.Remove(name) }
	out := append(append([]string{}, flags...), "@"+name)
	out = append(out, rest...)
	return out, cleanup, nil
}

func includeArgs(includes []string) []string {
	out := make([]string, len(includes))
	for i, inc := range includes {
		out[i] = "-I" + inc
	}
	return out
}
