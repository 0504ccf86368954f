package multimaya

import (
	"bytes"
	_ "embed"
	"fmt"
	"reflect"
	"strings"
	"text/template"
)

// ShimTemplateVersion identifies the layout of scripts/shim.py.tmpl. It is
// written into every rendered shim.
const ShimTemplateVersion = 2

//go:embed scripts/shim.py.tmpl
var shimTemplateSource string

var shimTemplate = template.Must(template.New("shim").Option("missingkey=error").Parse(shimTemplateSource))

// ShimSpec describes one generated entry script.
type ShimSpec struct {
	Target Callable
	Mode   Mode

	// Args are the positional arguments for ModeSingle and ModeDetached. For
	// ModePool each element is one task's argument.
	Args []interface{}

	// Kwargs are keyword arguments passed to every invocation.
	Kwargs map[string]interface{}

	// PoolSize is the number of pool workers; 0 lets Python pick os.cpu_count().
	PoolSize int

	// Star applies each pool element as a positional argument list.
	Star bool

	// Keep leaves the shim file in place after a clean exit.
	Keep bool

	// Capture makes single and detached calls return their value.
	Capture bool

	// Serializer names the payload codec ("json" or "msgpack").
	Serializer string

	// PoolExecutable replaces sys.executable for sub-processes started by
	// detached and pool modes. Empty leaves the interpreter's own setting.
	PoolExecutable string

	// Initializer runs before the target in every process that calls it.
	Initializer *Callable
}

// ExpectsPayload reports whether the rendered shim emits a result frame.
func (s *ShimSpec) ExpectsPayload() bool {
	return s.Mode == ModePool || s.Capture
}

// Validate rejects specs that cannot be rendered, before any file or process exists.
func (s *ShimSpec) Validate() error {
	if err := s.Target.Validate(); err != nil {
		return err
	}
	if _, err := ParseMode(string(s.Mode)); err != nil || s.Mode == "" {
		return &ArgumentError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	}
	if s.PoolSize < 0 {
		return &ArgumentError{Field: "pool_size", Reason: fmt.Sprintf("must be >= 0, got %d", s.PoolSize)}
	}
	if _, err := SerializerByName(s.Serializer); err != nil {
		return &ArgumentError{Field: "serializer", Reason: err.Error()}
	}
	for k := range s.Kwargs {
		if !isPythonIdentifier(k) {
			return &ArgumentError{Field: "kwargs", Reason: fmt.Sprintf("%q is not a valid keyword argument name", k)}
		}
	}
	if s.Initializer != nil {
		if err := s.Initializer.Validate(); err != nil {
			return &ArgumentError{Field: "initializer", Reason: err.Error()}
		}
	}
	if s.Mode == ModePool && s.Star {
		for i, item := range s.Args {
			switch reflect.ValueOf(item).Kind() {
			case reflect.Slice, reflect.Array:
			default:
				return &ArgumentError{Field: fmt.Sprintf("args[%d]", i), Reason: "star application needs a list of arguments per task"}
			}
		}
	}
	return nil
}

type shimTemplateData struct {
	TemplateVersion int
	ProtocolVersion int
	Target          string
	ModeName        string
	FrameMarker     string
	Module          string
	Function        string
	Mode            string
	Args            string
	Kwargs          string
	PoolSize        string
	Star            string
	Keep            string
	Capture         string
	Serializer      string
	PoolExecutable  string
	InitModule      string
	InitFunction    string
}

// RenderShim validates spec and returns the shim source. The output depends
// only on spec, so equal specs render identical text.
func RenderShim(spec ShimSpec) (string, error) {
	if spec.Mode == "" {
		spec.Mode = ModeSingle
	}
	if spec.Serializer == "" {
		spec.Serializer = JSONSerializer{}.Name()
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	args := spec.Args
	if args == nil {
		args = []interface{}{}
	}
	kwargs := spec.Kwargs
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	data := shimTemplateData{
		TemplateVersion: ShimTemplateVersion,
		ProtocolVersion: FrameProtocolVersion,
		Target:          spec.Target.String(),
		ModeName:        string(spec.Mode),
	}

	var firstErr error
	lit := func(field string, v interface{}) string {
		s, err := EncodeLiteral(v)
		if err != nil && firstErr == nil {
			if ae, ok := err.(*ArgumentError); ok {
				ae.Field = field + strings.TrimPrefix(ae.Field, "value")
			}
			firstErr = err
		}
		return s
	}

	data.FrameMarker = lit("frame_marker", FrameMarker)
	data.Module = lit("module", spec.Target.Module)
	data.Function = lit("function", spec.Target.Function)
	data.Mode = lit("mode", string(spec.Mode))
	data.Args = lit("args", args)
	data.Kwargs = lit("kwargs", kwargs)
	data.Star = lit("star", spec.Star)
	data.Keep = lit("keep", spec.Keep)
	data.Capture = lit("capture", spec.Capture)
	data.Serializer = lit("serializer", spec.Serializer)

	data.PoolSize = "None"
	if spec.PoolSize > 0 {
		data.PoolSize = lit("pool_size", spec.PoolSize)
	}
	data.PoolExecutable = "None"
	if spec.PoolExecutable != "" && spec.Mode.usesMultiprocessing() {
		data.PoolExecutable = lit("pool_executable", spec.PoolExecutable)
	}
	data.InitModule, data.InitFunction = "None", "None"
	if spec.Initializer != nil {
		data.InitModule = lit("initializer", spec.Initializer.Module)
		data.InitFunction = lit("initializer", spec.Initializer.Function)
	}
	if firstErr != nil {
		return "", firstErr
	}

	var out bytes.Buffer
	if err := shimTemplate.Execute(&out, data); err != nil {
		return "", fmt.Errorf("rendering shim: %w", err)
	}
	return out.String(), nil
}
