// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ExpandTemplate expands an object-name template with bash-style brace ranges
// into the full list of object names.
//
// A range has the form `{start..end}` or `{start..end..step}`, with inclusive
// bounds. Zero-padded bounds keep their width in the expansion:
//
//	ExpandTemplate("train-{0..3}.tar.xz")
//	  => ["train-0.tar.xz", "train-1.tar.xz", "train-2.tar.xz", "train-3.tar.xz"]
//	ExpandTemplate("shard-{000..010..5}.tar")
//	  => ["shard-000.tar", "shard-005.tar", "shard-010.tar"]
//
// A template may hold more than one range, in which case the cartesian product
// is generated. A template without any range names a single object.
func ExpandTemplate(template string) ([]string, error) {
	names, err := expand(template)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid object template %q", template)
	}
	return names, nil
}

func expand(template string) ([]string, error) {
	open := strings.IndexByte(template, '{')
	if open < 0 {
		if strings.IndexByte(template, '}') >= 0 {
			return nil, errors.New("unbalanced '}'")
		}
		return []string{template}, nil
	}
	closing := strings.IndexByte(template[open:], '}')
	if closing < 0 {
		return nil, errors.New("unbalanced '{'")
	}
	closing += open

	prefix := template[:open]
	if strings.IndexByte(prefix, '}') >= 0 {
		return nil, errors.New("unbalanced '}'")
	}
	rng, err := parseRange(template[open+1 : closing])
	if err != nil {
		return nil, err
	}
	suffixes, err := expand(template[closing+1:])
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, rng.count()*len(suffixes))
	for v := rng.start; v <= rng.end; v += rng.step {
		part := prefix + fmt.Sprintf("%0*d", rng.width, v)
		for _, suffix := range suffixes {
			names = append(names, part+suffix)
		}
	}
	return names, nil
}

type braceRange struct {
	start, end, step int
	width            int // Zero-padding width, 0 for none.
}

func (r braceRange) count() int {
	return (r.end-r.start)/r.step + 1
}

func parseRange(body string) (rng braceRange, err error) {
	parts := strings.Split(body, "..")
	if len(parts) != 2 && len(parts) != 3 {
		return rng, errors.Errorf("range %q must have the form {start..end} or {start..end..step}", body)
	}
	rng.start, err = strconv.Atoi(parts[0])
	if err != nil {
		return rng, errors.Errorf("range %q has non-numeric start %q", body, parts[0])
	}
	rng.end, err = strconv.Atoi(parts[1])
	if err != nil {
		return rng, errors.Errorf("range %q has non-numeric end %q", body, parts[1])
	}
	rng.step = 1
	if len(parts) == 3 {
		rng.step, err = strconv.Atoi(parts[2])
		if err != nil {
			return rng, errors.Errorf("range %q has non-numeric step %q", body, parts[2])
		}
	}
	if rng.start < 0 || rng.end < rng.start {
		return rng, errors.Errorf("range %q must have 0 <= start <= end", body)
	}
	if rng.step <= 0 {
		return rng, errors.Errorf("range %q must have step > 0", body)
	}
	if len(parts[0]) > 1 && parts[0][0] == '0' {
		rng.width = len(parts[0])
	}
	return rng, nil
}
