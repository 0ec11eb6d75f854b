// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/feedbridge/lib/codec"
)

// JSONOutput is embedded in a command's parameters to add --json and
// --raw.
//
//	var params struct {
//	    cli.JSONOutput
//	}
//	params.AddOutputFlags(flagSet)
//	...
//	if done, err := params.Emit(os.Stdout, response.Data, result); done {
//	    return err
//	}
//	// text formatting
type JSONOutput struct {
	OutputJSON bool
	OutputRaw  bool
}

// AddOutputFlags registers --json and --raw on flagSet.
func (j *JSONOutput) AddOutputFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&j.OutputJSON, "json", false, "output as JSON")
	flagSet.BoolVar(&j.OutputRaw, "raw", false, "output the daemon's CBOR response in diagnostic notation")
}

// Emit writes raw in CBOR diagnostic notation under --raw, or result
// as indented JSON under --json. It reports false when neither flag is
// set and the caller should print text.
func (j *JSONOutput) Emit(w io.Writer, raw codec.RawMessage, result any) (bool, error) {
	switch {
	case j.OutputRaw:
		return true, WriteDiagnostic(w, raw)
	case j.OutputJSON:
		return true, WriteJSON(w, normalizeNilSlice(result))
	}
	return false, nil
}

// WriteJSON marshals value as indented JSON to w.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// WriteDiagnostic writes data in RFC 8949 diagnostic notation. An
// empty response body prints as "null".
func WriteDiagnostic(w io.Writer, data codec.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	text, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("rendering CBOR diagnostic: %w", err)
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

// normalizeNilSlice turns a nil slice into an empty one so JSON output
// shows [] instead of null.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
