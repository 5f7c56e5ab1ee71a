package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// payloadEncoding is the textual form of update and state vector bytes.
type payloadEncoding string

const (
	encodingBinary payloadEncoding = "binary"
	encodingHex    payloadEncoding = "hex"
	encodingBase64 payloadEncoding = "base64"
)

// reportFormat is the format of human readable output.
type reportFormat string

const (
	formatYAML reportFormat = "yaml"
	formatJSON reportFormat = "json"
)

func parseEncoding(s string) (payloadEncoding, error) {
	switch e := payloadEncoding(strings.ToLower(s)); e {
	case encodingBinary, encodingHex, encodingBase64:
		return e, nil
	default:
		return "", errors.Errorf("unknown encoding %q", s)
	}
}

func parseFormat(s string) (reportFormat, error) {
	switch f := reportFormat(strings.ToLower(s)); f {
	case formatYAML, formatJSON:
		return f, nil
	default:
		return "", errors.Errorf("unknown format %q", s)
	}
}

// readPayload reads a payload from path, or from stdin when path is "-".
func readPayload(cmd *cobra.Command, path, encoding string) ([]byte, error) {
	enc, err := parseEncoding(encoding)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	switch enc {
	case encodingHex:
		out, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		return out, errors.Wrapf(err, "invalid hex in %s", path)
	case encodingBase64:
		out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		return out, errors.Wrapf(err, "invalid base64 in %s", path)
	default:
		return raw, nil
	}
}

// writePayload writes data to path, or to stdout when path is empty or "-".
func writePayload(cmd *cobra.Command, path, encoding string, data []byte) error {
	enc, err := parseEncoding(encoding)
	if err != nil {
		return err
	}

	switch enc {
	case encodingHex:
		data = []byte(hex.EncodeToString(data) + "\n")
	case encodingBase64:
		data = []byte(base64.StdEncoding.EncodeToString(data) + "\n")
	}

	if path == "" || path == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write %s", path)
}

// writeReport renders v as YAML or JSON on stdout.
func writeReport(cmd *cobra.Command, format string, v interface{}) error {
	f, err := parseFormat(format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
