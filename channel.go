package multimaya

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FrameMarker starts every result frame. The leading control bytes keep it
// from colliding with anything the target prints.
const FrameMarker = "\x01\x02\x03MULTIMAYA/"

// FrameProtocolVersion is the frame and payload layout version.
const FrameProtocolVersion = 1

// payload is the structure the shim serializes. Results and Errors are
// parallel lists: Errors[i] is nil when task i succeeded.
type payload struct {
	Version int                `json:"version" msgpack:"version"`
	Mode    string             `json:"mode" msgpack:"mode"`
	Results []interface{}      `json:"results" msgpack:"results"`
	Errors  []*PythonException `json:"errors" msgpack:"errors"`
}

// EncodeFrame produces the bytes the shim writes to stdout for a payload.
//
//	\x01\x02\x03MULTIMAYA/1 <serializer> <n>\n<n bytes of base64>\n
func EncodeFrame(serializer string, body []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(body)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d %s %d\n", FrameMarker, FrameProtocolVersion, serializer, len(encoded))
	buf.WriteString(encoded)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Frame is a located result frame.
type Frame struct {
	Serializer string
	Body       []byte

	// Offset is where the frame header starts in the captured output.
	Offset int
}

var errNoFrame = errors.New("no result frame in output")

// FindFrame locates the last result frame in captured stdout. Exactly the
// declared number of body bytes is consumed; anything after them (newlines,
// EOF artefacts of the capture) is ignored. It returns errNoFrame when no
// header is present.
func FindFrame(out []byte) (*Frame, error) {
	idx := bytes.LastIndex(out, []byte(FrameMarker))
	if idx < 0 {
		return nil, errNoFrame
	}
	rest := out[idx+len(FrameMarker):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("unterminated frame header")
	}
	fields := strings.Fields(string(rest[:nl]))
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed frame header %q", rest[:nl])
	}
	version, err := strconv.Atoi(fields[0])
	if err != nil || version != FrameProtocolVersion {
		return nil, fmt.Errorf("unsupported frame version %q", fields[0])
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid frame length %q", fields[2])
	}
	body := rest[nl+1:]
	if len(body) < n {
		return nil, fmt.Errorf("truncated frame: declared %d bytes, got %d", n, len(body))
	}
	decoded, err := base64.StdEncoding.DecodeString(string(body[:n]))
	if err != nil {
		return nil, fmt.Errorf("invalid frame body: %w", err)
	}
	return &Frame{Serializer: fields[1], Body: decoded, Offset: idx}, nil
}

// DecodeInput is everything the result channel needs from one launch.
type DecodeInput struct {
	Target     Callable
	Mode       Mode
	ExitCode   int
	Stdout     []byte
	StderrTail []string
	ScriptPath string

	// ExpectPayload is true when the shim was rendered to emit a frame.
	ExpectPayload bool
}

// Decode interprets a finished launch. It returns exactly one of a *Result or
// an error; the error is a *ChildError or a *ProtocolError.
//
// A non-zero exit with a crash marker is a child exception even when a frame
// was written first, as a pool run with failed tasks does; the decoded task
// entries are then attached to the *ChildError.
func Decode(in DecodeInput) (*Result, error) {
	protocolError := func(kind ProtocolKind, cause error) error {
		return &ProtocolError{
			Kind:       kind,
			Target:     in.Target,
			Mode:       in.Mode,
			ExitCode:   in.ExitCode,
			ScriptPath: in.ScriptPath,
			StderrTail: in.StderrTail,
			Cause:      cause,
		}
	}

	res := &Result{
		Target:     in.Target,
		Mode:       in.Mode,
		ExitCode:   in.ExitCode,
		ScriptPath: in.ScriptPath,
		Output:     string(in.Stdout),
	}
	payloadErr := readPayload(in, res)

	if in.ExitCode != 0 {
		crashPath := CrashMarkerPath(in.ScriptPath)
		trace, err := os.ReadFile(crashPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, protocolError(UnexplainedExit, errors.New("no crash marker was written"))
			}
			return nil, protocolError(UnexplainedExit, fmt.Errorf("reading crash marker: %w", err))
		}
		childErr := &ChildError{
			Target:     in.Target,
			Mode:       in.Mode,
			ExitCode:   in.ExitCode,
			ScriptPath: in.ScriptPath,
			CrashPath:  crashPath,
			Trace:      string(trace),
			Exception:  ParseTraceback(string(trace)),
		}
		if payloadErr == nil && res.HasPayload {
			childErr.Tasks = res.Entries()
			if failures := res.Failures(); len(failures) > 0 {
				childErr.Exception = failures[0].Exception
			}
		}
		return nil, childErr
	}

	if errors.Is(payloadErr, errNoFrame) {
		if in.ExpectPayload {
			return nil, protocolError(MissingPayload, payloadErr)
		}
		return res, nil
	}
	if payloadErr != nil {
		return nil, protocolError(MalformedPayload, payloadErr)
	}
	return res, nil
}

// readPayload fills res from the last frame in the captured output. It
// returns errNoFrame when there is none; any other error means the frame or
// its payload is malformed, and res is left untouched.
func readPayload(in DecodeInput, res *Result) error {
	frame, err := FindFrame(in.Stdout)
	if err != nil {
		return err
	}
	serializer, err := SerializerByName(frame.Serializer)
	if err != nil {
		return err
	}
	var p payload
	if err := serializer.Unmarshal(frame.Body, &p); err != nil {
		return fmt.Errorf("decoding %s payload: %w", serializer.Name(), err)
	}
	if p.Version != FrameProtocolVersion {
		return fmt.Errorf("unsupported payload version %d", p.Version)
	}
	if len(p.Errors) != len(p.Results) {
		return fmt.Errorf("payload has %d results but %d error slots", len(p.Results), len(p.Errors))
	}
	if in.Mode != ModePool && len(p.Results) != 1 {
		return fmt.Errorf("%s mode payload has %d results", in.Mode, len(p.Results))
	}

	res.Output = string(in.Stdout[:frame.Offset])
	res.HasPayload = true
	res.serializer = serializer
	res.results = p.Results
	res.errors = p.Errors
	return nil
}
