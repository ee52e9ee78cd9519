package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
	"gopkg.in/yaml.v3"
)

// printer writes object state transitions in text or YAML.
type printer struct {
	out  io.Writer
	yaml bool
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch format {
	case "", "text":
		return &printer{out: out}, nil
	case "yaml":
		return &printer{out: out, yaml: true}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want text or yaml)", format)
}

// Valid prints "+++ path" when an object becomes valid and "--- path" when
// it stops being valid.
func (p *printer) Valid(path dbus.ObjectPath, valid bool) {
	if valid {
		fmt.Fprintf(p.out, "+++ %s\n", path)
	} else {
		fmt.Fprintf(p.out, "--- %s\n", path)
	}
}

// Dump prints every property of an object.
func (p *printer) Dump(path dbus.ObjectPath, props map[string]dbus.Variant) error {
	if p.yaml {
		return p.encode(map[string]any{string(path): plain(props)})
	}
	for _, name := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(p.out, "    %s: %s\n", name, text(props[name].Value()))
	}
	return nil
}

// Change prints a single property update.
func (p *printer) Change(path dbus.ObjectPath, name string, v dbus.Variant, removed bool) error {
	if p.yaml {
		var value any
		if !removed {
			value = plainValue(v.Value())
		}
		return p.encode(map[string]any{string(path): map[string]any{name: value}})
	}
	if removed {
		fmt.Fprintf(p.out, "%s: %s removed\n", path, name)
		return nil
	}
	fmt.Fprintf(p.out, "%s: %s = %s\n", path, name, text(v.Value()))
	return nil
}

func (p *printer) encode(doc any) error {
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func text(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []string:
		return "[" + strings.Join(v, ", ") + "]"
	case map[string]dbus.Variant:
		parts := make([]string, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			parts = append(parts, k+"="+text(v[k].Value()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case dbus.ObjectPath:
		return string(v)
	}
	return fmt.Sprint(v)
}

// plain converts variants into values the YAML encoder understands.
func plain(props map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = plainValue(v.Value())
	}
	return out
}

func plainValue(v any) any {
	switch v := v.(type) {
	case map[string]dbus.Variant:
		return plain(v)
	case dbus.ObjectPath:
		return string(v)
	case dbus.Variant:
		return plainValue(v.Value())
	}
	return v
}
