package neptune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
	"github.com/spachava753/kedro-neptune/internal/tracking"
	"github.com/spachava753/kedro-neptune/internal/util"
)

// LogParameters writes every entry of the catalog's parameters mapping
// under <ns>/parameters. Values other than numbers, strings and booleans
// are written in their JSON form.
func LogParameters(ctx context.Context, ns tracking.Namespace, c *catalog.Catalog) error {
	if !c.Has(catalog.ParametersName) {
		return nil
	}
	raw, err := c.Load(ctx, catalog.ParametersName)
	if err != nil {
		return err
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("parameters: expected a mapping, got %T", raw)
	}

	for name, value := range params {
		if err := ns.Child("parameters").Child(name).Assign(ctx, parameterValue(value)); err != nil {
			return fmt.Errorf("logging parameter %s: %w", name, err)
		}
	}
	return nil
}

// parameterValue keeps scalars as they are, except those the store cannot
// hold (NaN, out-of-range integers) which are written as strings.
// Collections are written as JSON.
func parameterValue(v any) any {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return tracking.StringifyUnsupported(v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

// LogDatasetMetadata writes the descriptor of ds under <ns>/<name>: its type
// and name plus whatever it describes about itself. A failing Describe only
// drops the extra fields.
func LogDatasetMetadata(ctx context.Context, ns tracking.Namespace, name string, ds catalog.Dataset) error {
	fields := map[string]any{
		"type": catalog.TypeName(ds),
		"name": name,
	}
	if d, ok := ds.(catalog.Describable); ok {
		desc, err := d.Describe()
		if err != nil {
			slog.Debug("describing dataset failed", "name", name, "error", err)
		}
		for k, v := range desc {
			fields[k] = v
		}
	}
	return ns.Child(name).Assign(ctx, tracking.StringifyUnsupported(fields))
}

// LogDataCatalogMetadata snapshots the catalog under <ns>/catalog. Each
// existing dataset gets a descriptor under datasets/<name> and, when it is
// an artifact, its content under files/<name>; entries already present are
// left alone. Files larger than maxFileSize bytes are skipped (0 means no
// limit). The parameters are written last.
func LogDataCatalogMetadata(ctx context.Context, ns tracking.Namespace, c *catalog.Catalog, maxFileSize int64) error {
	catNS := ns.Child("catalog")
	datasetsNS := catNS.Child("datasets")
	filesNS := catNS.Child("files")

	for _, e := range c.Entries() {
		if skipDataset(e.Dataset) {
			continue
		}
		exists, err := e.Dataset.Exists(ctx)
		if err != nil {
			slog.Warn("checking dataset failed", "name", e.Name, "error", err)
			continue
		}
		if !exists {
			continue
		}

		logged, err := datasetsNS.Child(e.Name).Exists(ctx)
		if err != nil {
			return err
		}
		if !logged {
			if err := LogDatasetMetadata(ctx, datasetsNS, e.Name, e.Dataset); err != nil {
				return fmt.Errorf("logging dataset %s: %w", e.Name, err)
			}
		}

		if catalog.IsArtifact(e.Dataset) {
			if err := logFileDataset(ctx, filesNS, e.Name, e.Dataset, maxFileSize); err != nil {
				return fmt.Errorf("uploading dataset %s: %w", e.Name, err)
			}
		}
	}

	return LogParameters(ctx, catNS, c)
}

func skipDataset(ds catalog.Dataset) bool {
	switch ds.(type) {
	case *catalog.MemoryDataset, *RunDataset:
		return true
	}
	return false
}

// logFileDataset uploads the content of ds unless a file is already
// present at <ns>/<name>. The content type is detected from the loaded
// value first; otherwise the raw bytes are uploaded with the extension the
// dataset describes.
func logFileDataset(ctx context.Context, ns tracking.Namespace, name string, ds catalog.Dataset, maxFileSize int64) error {
	target := ns.Child(name)
	present, err := target.Exists(ctx)
	if err != nil || present {
		return err
	}

	data, err := ds.Load(ctx)
	if err != nil {
		return err
	}

	f, err := tracking.CreateFile(data)
	if err != nil {
		content, err := rawContent(data, ds)
		if err != nil {
			return err
		}
		f = tracking.FileFromContent(content, describedExtension(ds))
	}

	if maxFileSize > 0 && int64(len(f.Content)) > maxFileSize {
		slog.Warn("skipping file upload above size limit",
			"name", name,
			"size", util.FormatSize(int64(len(f.Content))),
			"limit", util.FormatSize(maxFileSize))
		return nil
	}

	return target.Upload(ctx, f)
}

// rawContent returns data as bytes, reading the backing file when data is
// not already bytes or text.
func rawContent(data any, ds catalog.Dataset) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	if fp, ok := ds.(filepather); ok && fp.Filepath() != "" {
		content, err := os.ReadFile(fp.Filepath())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fp.Filepath(), err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("cannot upload %T: %w", data, tracking.ErrUnrecognizedContent)
}

func describedExtension(ds catalog.Dataset) string {
	d, ok := ds.(catalog.Describable)
	if !ok {
		return ""
	}
	desc, err := d.Describe()
	if err != nil {
		return ""
	}
	ext, _ := desc["extension"].(string)
	return ext
}

// PipelineStructure returns the pipeline's JSON structure indented by four
// spaces, with sorted keys.
func PipelineStructure(p *pipeline.Pipeline) ([]byte, error) {
	raw, err := p.ToJSON()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// LogPipelineMetadata uploads the pipeline structure to <ns>/structure as
// a JSON file.
func LogPipelineMetadata(ctx context.Context, ns tracking.Namespace, p *pipeline.Pipeline) error {
	content, err := PipelineStructure(p)
	if err != nil {
		return fmt.Errorf("encoding pipeline structure: %w", err)
	}
	return ns.Child("structure").Upload(ctx, tracking.FileFromContent(content, "json"))
}

// LogRunParams writes the run parameters to <ns>/run_params.
func LogRunParams(ctx context.Context, ns tracking.Namespace, params map[string]any) error {
	return ns.Child("run_params").Assign(ctx, tracking.StringifyUnsupported(params))
}

// LogCommand writes the command line the pipeline was started with to
// <ns>/kedro_command.
func LogCommand(ctx context.Context, ns tracking.Namespace, args []string) error {
	return ns.Child("kedro_command").Assign(ctx, commandLine(args))
}

func commandLine(args []string) string {
	if len(args) == 0 {
		return "kedro"
	}
	parts := append([]string{filepath.Base(args[0])}, args[1:]...)
	return strings.Join(parts, " ")
}

// GitSHAFunc returns the HEAD commit of the repository containing dir, or
// "" when there is none.
type GitSHAFunc func(dir string) string

// LogGitSHA writes the current commit to <ns>/git. Nothing is written when
// no commit can be resolved.
func LogGitSHA(ctx context.Context, ns tracking.Namespace, resolve GitSHAFunc, dir string) error {
	if resolve == nil {
		resolve = ResolveGitSHA
	}
	sha := resolve(dir)
	if sha == "" {
		slog.Debug("no git commit found", "dir", dir)
		return nil
	}
	return ns.Child("git").Assign(ctx, sha)
}

// ResolveGitSHA attempts to get the current HEAD commit SHA.
func ResolveGitSHA(dir string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
