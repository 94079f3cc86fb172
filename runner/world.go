package runner

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-sandbox/errors"
)

//go:embed world.wit
var worldWIT string

// Canonical ABI flattening limits.
const (
	maxFlatParams  = 16
	maxFlatResults = 1
)

// Func is one world function with its WIT-level signature.
type Func struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// World holds the guest contract: what the guest imports from the host and
// what it must export.
type World struct {
	Imports map[string]*Func
	Exports map[string]*Func
}

// funcPattern: [import|export] name: func(params) [-> result];
var funcPattern = regexp.MustCompile(`(import|export)\s+([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?;`)

// ParseWorld extracts function signatures from WIT world text.
func ParseWorld(text string) (*World, error) {
	w := &World{
		Imports: make(map[string]*Func),
		Exports: make(map[string]*Func),
	}

	for _, match := range funcPattern.FindAllStringSubmatch(text, -1) {
		direction := match[1]
		fn := &Func{Name: match[2]}

		if params := strings.TrimSpace(match[3]); params != "" {
			for _, p := range splitParams(params) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = strings.TrimSpace(p[idx+1:])
				}
				t, err := parseType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "parse param type "+typStr)
				}
				fn.Params = append(fn.Params, t)
			}
		}

		if result := strings.TrimSpace(match[4]); result != "" {
			t, err := parseType(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "parse result type "+result)
			}
			fn.Results = []wit.Type{t}
		}

		switch direction {
		case "import":
			w.Imports[fn.Name] = fn
		case "export":
			w.Exports[fn.Name] = fn
		}
	}

	if len(w.Exports) == 0 {
		return nil, errors.InvalidInput(errors.PhaseCompile, "world declares no exports")
	}
	return w, nil
}

// DefaultWorld parses the embedded guest world. The embedded text is fixed,
// so a parse failure is a build defect.
func DefaultWorld() *World {
	w, err := ParseWorld(worldWIT)
	if err != nil {
		panic(err)
	}
	return w
}

// splitParams splits a parameter list on top-level commas, respecting
// generic brackets (option<...>, result<a, b>).
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '<', '(':
			depth++
			current.WriteRune(ch)
		case '>', ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

// parseType parses the subset of WIT types the guest world uses: primitives
// via the wit package, plus option<T>, list<T>, and result[<ok, err>].
func parseType(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "result":
		return &wit.TypeDef{Kind: &wit.Result{}}, nil

	case strings.HasPrefix(s, "result<") && strings.HasSuffix(s, ">"):
		inner := splitParams(s[len("result<") : len(s)-1])
		r := &wit.Result{}
		if len(inner) > 0 && inner[0] != "_" {
			ok, err := parseType(inner[0])
			if err != nil {
				return nil, err
			}
			r.OK = ok
		}
		if len(inner) > 1 && inner[1] != "_" {
			e, err := parseType(inner[1])
			if err != nil {
				return nil, err
			}
			r.Err = e
		}
		return &wit.TypeDef{Kind: r}, nil

	case strings.HasPrefix(s, "option<") && strings.HasSuffix(s, ">"):
		inner, err := parseType(s[len("option<") : len(s)-1])
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: inner}}, nil

	case strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">"):
		inner, err := parseType(s[len("list<") : len(s)-1])
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: inner}}, nil
	}

	return wit.ParseType(s)
}

// flattenType maps a WIT type to its flat core representation.
func flattenType(t wit.Type) []api.ValueType {
	switch v := t.(type) {
	case nil:
		return nil
	case wit.Bool, wit.U8, wit.U16, wit.U32, wit.S8, wit.S16, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32} // ptr, len
	case *wit.TypeDef:
		return flattenTypeDef(v)
	default:
		return []api.ValueType{api.ValueTypeI32}
	}
}

func flattenTypeDef(td *wit.TypeDef) []api.ValueType {
	if td == nil || td.Kind == nil {
		return []api.ValueType{api.ValueTypeI32}
	}

	switch kind := td.Kind.(type) {
	case *wit.List:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32} // ptr, len
	case *wit.Option:
		flat := []api.ValueType{api.ValueTypeI32} // discriminant
		return append(flat, flattenType(kind.Type)...)
	case *wit.Result:
		flat := []api.ValueType{api.ValueTypeI32} // discriminant
		var payload []api.ValueType
		if kind.OK != nil {
			payload = flattenType(kind.OK)
		}
		if kind.Err != nil {
			errFlat := flattenType(kind.Err)
			if len(errFlat) > len(payload) {
				payload = errFlat
			}
		}
		return append(flat, payload...)
	case wit.Type:
		return flattenType(kind)
	default:
		return []api.ValueType{api.ValueTypeI32}
	}
}

func flattenTypes(types []wit.Type) []api.ValueType {
	var flat []api.ValueType
	for _, t := range types {
		flat = append(flat, flattenType(t)...)
	}
	return flat
}

// CoreImportSignature returns the core-level signature of a host import
// (lower context): oversized results move to a caller-provided return area
// pointer appended to the params.
func (f *Func) CoreImportSignature() (params, results []api.ValueType) {
	params = flattenTypes(f.Params)
	results = flattenTypes(f.Results)

	if len(params) > maxFlatParams {
		params = []api.ValueType{api.ValueTypeI32}
	}
	if len(results) > maxFlatResults {
		params = append(params, api.ValueTypeI32)
		results = nil
	}
	return params, results
}

// CoreExportSignature returns the core-level signature of a guest export
// (lift context): oversized results collapse to a returned area pointer.
func (f *Func) CoreExportSignature() (params, results []api.ValueType) {
	params = flattenTypes(f.Params)
	results = flattenTypes(f.Results)

	if len(params) > maxFlatParams {
		params = []api.ValueType{api.ValueTypeI32}
	}
	if len(results) > maxFlatResults {
		results = []api.ValueType{api.ValueTypeI32}
	}
	return params, results
}
