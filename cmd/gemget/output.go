package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"github.com/knowfox/gemini/v2/tofu"
	"gopkg.in/yaml.v3"
)

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeRecords(w io.Writer, records []tofu.Record, format string) error {
	if format != "text" {
		if records == nil {
			records = []tofu.Record{}
		}
		return encode(w, format, records)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tFIRST SEEN\tFINGERPRINT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Host, r.FirstSeen.Format(time.RFC3339), r.Fingerprint)
	}
	return tw.Flush()
}

// hostKeyArg turns a HOST or HOST:PORT argument into a known hosts key.
func hostKeyArg(arg string) string {
	if host, port, err := net.SplitHostPort(arg); err == nil {
		return tofu.HostKey(host, port)
	}
	return tofu.HostKey(arg, "")
}
