package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

const timeLayout = "2006-01-02 15:04"

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	case "":
		return formatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

func printJobs(w io.Writer, jobs []types.Job, format outputFormat) error {
	switch format {
	case formatJSON:
		return writeJSON(w, jobs)
	case formatYAML:
		return writeYAML(w, jobs)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tNAME\tCRON\tMETHOD\tSTATUS\tURL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.Project, j.Name, j.Cron, j.Method, j.Status, j.URL)
	}
	return tw.Flush()
}

// logsDocument json/yaml 輸出的結構
type logsDocument struct {
	Items []types.Log `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Pages int         `json:"pages"`
	Limit int         `json:"limit"`
}

func printLogs(w io.Writer, view query.View, format outputFormat) error {
	doc := logsDocument{Items: view.Items, Total: view.Total, Page: view.Page, Pages: view.Pages(), Limit: view.Limit}
	if doc.Items == nil {
		doc.Items = []types.Log{}
	}
	switch format {
	case formatJSON:
		return writeJSON(w, doc)
	case formatYAML:
		return writeYAML(w, doc)
	}

	if len(view.Items) == 0 {
		fmt.Fprintln(w, "no data")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tSTATUS\tHTTP\tAT\tMESSAGE")
	for _, l := range view.Items {
		httpStatus := "-"
		if l.HTTPStatus != nil {
			httpStatus = fmt.Sprint(*l.HTTPStatus)
		}
		msg := ""
		if l.Message != nil {
			msg = strings.ReplaceAll(*l.Message, "\n", " ")
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", l.ID, l.JobID, l.Status, httpStatus, l.CreatedAt.UTC().Format(timeLayout), msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\npage %d of %d (%d logs)\n", view.Page, max(doc.Pages, 1), view.Total)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML 以 JSON 欄位名稱輸出 YAML
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle 將 JSON 解析出的 flow style 改為一般 YAML 樣式
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
