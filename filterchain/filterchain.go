// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filterchain post-processes decoded sentences before they are
// written out or scored.
package filterchain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter transforms a single sentence.
type Filter func(s string) string

var (
	segmentRE = regexp2.MustCompile(` *<.*?:(.*?)>`, regexp2.None)
	hyphenRE  = regexp2.MustCompile(`\s*@-@\s*`, regexp2.None)
)

var filters = map[string]Filter{
	// subword-nmt BPE
	"de-bpe": func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "@@ ", ""), "@@", "")
	},
	// sentencepiece
	"de-spm": func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "▁", " "))
	},
	// <tag:form> morphological segmentations
	"de-segment": func(s string) string {
		return replace(segmentRE, s, "$1")
	},
	// space separated characters, with <s> as word boundary
	"c2w": func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "<s>", " "))
	},
	// compound splitting fillers
	"de-compound": func(s string) string {
		r := strings.NewReplacer(" @@ ", "", " @@", "", " @", "", "@ ", "")
		return r.Replace(s)
	},
	"de-hyphen": func(s string) string {
		return replace(hyphenRE, s, "-")
	},
	"lower": func(s string) string {
		return cases.Lower(language.Und).String(s)
	},
	"upper": func(s string) string {
		return cases.Upper(language.Und).String(s)
	},
}

func replace(re *regexp2.Regexp, s, repl string) string {
	out, err := re.Replace(s, repl, -1, -1)
	if err != nil {
		// only a match timeout can fail, and none is set
		return s
	}
	return out
}

// Names returns the available filter names, sorted.
func Names() []string {
	names := make([]string, 0, len(filters))
	for k := range filters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Chain applies a sequence of filters in order.
type Chain struct {
	names []string
	funcs []Filter
}

// New parses a comma-separated list of filter names. An empty spec returns
// a chain that leaves sentences unchanged.
func New(spec string) (*Chain, error) {
	c := &Chain{}
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, ok := filters[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		c.names = append(c.names, name)
		c.funcs = append(c.funcs, f)
	}
	return c, nil
}

// Identity returns a chain without filters.
func Identity() *Chain {
	return &Chain{}
}

// Len returns the number of filters.
func (c *Chain) Len() int {
	return len(c.funcs)
}

// String returns the filter names, comma separated.
func (c *Chain) String() string {
	return strings.Join(c.names, ",")
}

// Apply filters every sentence, returning a new slice.
func (c *Chain) Apply(sentences []string) []string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = c.ApplyOne(s)
	}
	return out
}

// ApplyOne filters a single sentence.
func (c *Chain) ApplyOne(s string) string {
	for _, f := range c.funcs {
		s = f(s)
	}
	return s
}
