package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

// Table provides a simple aligned key/value formatter.
type Table struct {
	w *tabwriter.Writer
}

// NewTable creates a table writing to out.
func NewTable(out io.Writer) *Table {
	return &Table{w: tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)}
}

// Row adds a row to the table.
func (t *Table) Row(values ...string) {
	_, _ = t.w.Write([]byte(strings.Join(values, "\t") + "\n"))
}

// Flush writes the table output.
func (t *Table) Flush() {
	_ = t.w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(out io.Writer, status kef.SpeakerStatus) {
	t := NewTable(out)
	t.Row("Power:", string(status.Power))
	t.Row("Source:", kef.SourceName(status.Source))
	volume := fmt.Sprint(status.Volume)
	if status.Muted {
		volume += " (muted)"
	}
	t.Row("Volume:", volume)
	state := "stopped"
	if status.IsPlaying {
		state = "playing"
	}
	t.Row("Playback:", state)
	if status.SongInfo != nil {
		t.Row("Track:", status.SongInfo.DisplayName())
		if status.SongInfo.Album != "" {
			t.Row("Album:", status.SongInfo.Album)
		}
	}
	if status.SongLength != nil {
		position := "-"
		if status.SongProgress != nil {
			position = formatMillis(*status.SongProgress)
		}
		t.Row("Position:", position+" / "+formatMillis(int64(*status.SongLength)))
	}
	t.Flush()
}

func printInfo(out io.Writer, info kef.DeviceInfo) {
	t := NewTable(out)
	t.Row("Name:", info.Name)
	t.Row("Model:", info.Model)
	t.Row("Firmware:", info.Firmware)
	t.Row("MAC:", info.MacAddress)
	t.Flush()
}

func formatMillis(ms int64) string {
	seconds := ms / 1000
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
