package countrypack

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed packs.yaml
var defaultPacks []byte

type fileFormat struct {
	SupportedCurrencies []string     `yaml:"supported_currencies"`
	Packs               []Definition `yaml:"packs"`
}

// Registry maps country codes to packs. It is built once at startup and only read afterwards.
type Registry struct {
	packs      map[string]*Pack
	codes      []string
	currencies map[string]struct{}
}

func NewRegistry(extraCurrencies []string, packs ...*Pack) (*Registry, error) {
	r := &Registry{
		packs:      make(map[string]*Pack, len(packs)),
		codes:      make([]string, 0, len(packs)),
		currencies: make(map[string]struct{}),
	}
	for _, p := range packs {
		if p == nil {
			continue
		}
		if _, exists := r.packs[p.code]; exists {
			return nil, fmt.Errorf("country pack %s registered twice", p.code)
		}
		r.packs[p.code] = p
		r.codes = append(r.codes, p.code)
		r.currencies[p.currency] = struct{}{}
	}
	for _, c := range extraCurrencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			r.currencies[c] = struct{}{}
		}
	}
	sort.Strings(r.codes)
	return r, nil
}

// Load decodes a YAML pack file.
func Load(reader io.Reader) (*Registry, error) {
	var file fileFormat
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode country packs: %w", err)
	}
	packs := make([]*Pack, 0, len(file.Packs))
	for _, def := range file.Packs {
		p, err := NewPack(def)
		if err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return NewRegistry(file.SupportedCurrencies, packs...)
}

// Default returns the registry built from the embedded pack definitions.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultPacks))
}

// LoadFile loads packs from path, falling back to the embedded set when path is empty.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open country packs file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (r *Registry) Get(code string) (*Pack, bool) {
	p, ok := r.packs[strings.ToUpper(strings.TrimSpace(code))]
	return p, ok
}

func (r *Registry) Codes() []string {
	return append([]string(nil), r.codes...)
}

func (r *Registry) SupportsCountry(code string) bool {
	_, ok := r.Get(code)
	return ok
}

func (r *Registry) SupportsCurrency(currency string) bool {
	_, ok := r.currencies[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

func (r *Registry) Currencies() []string {
	out := make([]string, 0, len(r.currencies))
	for c := range r.currencies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
