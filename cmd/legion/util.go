package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/legion/pkg/client"
)

// formatStatus renders name, pid and state separated by tabs. Use --json
// for the exit outcome and timestamps.
func formatStatus(st client.DaemonStatus) string {
	return fmt.Sprintf("%s\t%d\t%s", st.Name, st.PID, st.State)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
