package scoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// GeneralCategory is assigned when no keyword set matches.
const GeneralCategory = "general"

// CategorySet is one named keyword list. Keywords may be phrases.
type CategorySet struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type categoriesFile struct {
	Fallback   string        `yaml:"fallback"`
	Categories []CategorySet `yaml:"categories"`
}

// CategoryTable is an ordered keyword lookup; the first matching set wins.
type CategoryTable struct {
	sets     []compiledSet
	fallback string
}

type compiledSet struct {
	name     string
	keywords [][]string
}

// DefaultCategorySets is the built-in table in priority order.
var DefaultCategorySets = []CategorySet{
	{Name: "ai_coding", Keywords: []string{
		"ai coding", "ai programming", "ai developer", "ai code", "code generation",
		"copilot", "github copilot", "cursor", "claude", "chatgpt", "gpt", "llm",
		"ai agents", "agents", "machine learning", "ml", "ai", "artificial intelligence",
		"prompt engineering", "codeium", "tabnine", "code assistant", "vibe coding",
	}},
	{Name: "programming_languages", Keywords: []string{
		"python", "java", "javascript", "typescript", "go", "golang", "rust",
		"c++", "c#", "php", "ruby", "kotlin", "swift", "scala", "zig",
	}},
	{Name: "frameworks", Keywords: []string{
		"react", "vue", "angular", "svelte", "django", "flask", "fastapi",
		"spring", "rails", "laravel", "express", "next.js", "nextjs",
	}},
	{Name: "devops", Keywords: []string{
		"docker", "kubernetes", "k8s", "aws", "azure", "gcp", "terraform",
		"ci/cd", "devops", "serverless", "helm",
	}},
	{Name: "tools", Keywords: []string{
		"github", "git", "api", "rest", "graphql", "vscode", "vim", "neovim", "postman",
	}},
}

// DefaultCategories returns the built-in table.
func DefaultCategories() *CategoryTable {
	t, _ := NewCategoryTable(DefaultCategorySets, GeneralCategory)
	return t
}

// NewCategoryTable compiles sets in the given priority order.
func NewCategoryTable(sets []CategorySet, fallback string) (*CategoryTable, error) {
	if fallback == "" {
		fallback = GeneralCategory
	}
	t := &CategoryTable{fallback: fallback}
	for _, s := range sets {
		if s.Name == "" {
			return nil, fmt.Errorf("category set without name")
		}
		cs := compiledSet{name: s.Name}
		for _, kw := range s.Keywords {
			if toks := Tokenize(kw); len(toks) > 0 {
				cs.keywords = append(cs.keywords, toks)
			}
		}
		t.sets = append(t.sets, cs)
	}
	return t, nil
}

// LoadCategories reads a YAML table:
//
//	fallback: general
//	categories:
//	  - name: ai_coding
//	    keywords: [copilot, llm]
func LoadCategories(r io.Reader) (*CategoryTable, error) {
	var f categoriesFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("categories file defines no categories")
	}
	return NewCategoryTable(f.Categories, f.Fallback)
}

// LoadCategoriesFile reads a YAML table from path.
func LoadCategoriesFile(path string) (*CategoryTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCategories(f)
}

// Categorize returns the first set with a keyword appearing in topic as a
// whole-word sequence. With no match, supplied is used when non-empty.
func (t *CategoryTable) Categorize(topic, supplied string) string {
	toks := Tokenize(topic)
	for _, set := range t.sets {
		for _, kw := range set.keywords {
			if containsSeq(toks, kw) {
				return set.name
			}
		}
	}
	if supplied = strings.TrimSpace(supplied); supplied != "" {
		return supplied
	}
	return t.fallback
}

// Names lists the categories in priority order followed by the fallback.
func (t *CategoryTable) Names() []string {
	out := make([]string, 0, len(t.sets)+1)
	for _, s := range t.sets {
		out = append(out, s.name)
	}
	return append(out, t.fallback)
}

// Tokenize lower-cases s and splits it into words. '+', '#' and '.' inside a
// word are kept so "c++", "c#" and "next.js" survive.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.')
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "."); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsSeq(toks, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(toks) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(toks); i++ {
		for j := range seq {
			if toks[i+j] != seq[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
