// Package prompt renders the instruction that opens every translation
// conversation and the fixed instruction sent on each continuation turn.
package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

// DefaultSentinel is the marker the model emits once the whole document has
// been translated.
const DefaultSentinel = "本次翻译任务完成"

// DefaultContinue is sent as the user turn after every reply that lacks the
// sentinel.
const DefaultContinue = "继续翻译剩余内容，一次尽可能多地翻译内容，避免生成其他文本。若全部文本翻译完，则生成提示“{{ .Sentinel }}”。"

// DefaultTemplate is the academic markdown to Chinese instruction.
const DefaultTemplate = `你是一个专门从事将学术的markdown文本翻译成学术中文的AI助手并且精通数学。
最重要的要求：不能省略任何内容。将全部文本翻译完后，再生成提示"{{ .Sentinel }}"，一定确保全部翻译完后再回复，绝对不要提前生成提示。
重要的基本要求：
1. 对于markdown文档的处理，保持markdown内联latex的格式，公式块使用双美元符$$ $$，双美元符公式块需要单独成行，行内公式使用单美元符$ $。正文使用中文全角标点符号，数学文本中使用英文半角标点符号。
2. 图片的插入代码保持不变，但将文本中HTML格式的表格转换为markdown内联表格的形式，并且保持表格中的内容不变。
3. 你不会生成任何除了翻译内容以外的其他文本。由于文本很长，你可能不能通过一次回答完整，不用担心，你的单次回答被截断后，我会提示你继续。
翻译的细节要求：
1. 英文的长句翻译通常不会直接对应中文句式，你需要作出逻辑叙述的调整。
2. 为照顾汉语的习惯，采用一词两译的做法。例如"set"单独使用时常译成"集合"，而在与其他词汇连用时则译成"集"（如可数集等）。
3. 汉语"是"只表示等于的意思，属于的意思则用"是一个"来表示。例如，不说"X是拓扑空间"，而说"X是一个拓扑空间"。
4. 长的词组容易发生歧义，遇到这种情形，宁可多用几个字翻译，也尽量避免歧义。
5. 汉语难于区别单数和复数，对于这种情形，宁可啰嗦一点，以保证不被误解。
{{- if .Glossary }}

术语表（请严格使用以下译法）：
{{- range .Glossary }}
  {{ .Source }} → {{ .Target }}
{{- end }}
{{- end }}
以下是需要翻译的内容：
{{ .Content }}`

// Term is one glossary pair injected into the instruction.
type Term struct {
	Source string
	Target string
}

type data struct {
	Content  string
	Sentinel string
	Glossary []Term
}

// Builder renders the opening instruction and the continuation instruction.
// A Builder is immutable and safe for concurrent use.
type Builder struct {
	sentinel string
	initial  *template.Template
	cont     string
	glossary []Term
}

// Options configures a Builder. Empty fields fall back to the defaults.
type Options struct {
	Template string
	Continue string
	Sentinel string
	Glossary map[string]string
}

func New(opts Options) (*Builder, error) {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.Continue == "" {
		opts.Continue = DefaultContinue
	}
	if strings.TrimSpace(opts.Sentinel) == "" {
		opts.Sentinel = DefaultSentinel
	}

	initial, err := template.New("initial").Funcs(sprig.TxtFuncMap()).Parse(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	contTmpl, err := template.New("continue").Funcs(sprig.TxtFuncMap()).Parse(opts.Continue)
	if err != nil {
		return nil, fmt.Errorf("parse continue template: %w", err)
	}

	b := &Builder{
		sentinel: opts.Sentinel,
		initial:  initial,
		glossary: sortedTerms(opts.Glossary),
	}

	var sb strings.Builder
	if err := contTmpl.Execute(&sb, data{Sentinel: opts.Sentinel}); err != nil {
		return nil, fmt.Errorf("render continue template: %w", err)
	}
	b.cont = sb.String()
	return b, nil
}

// LoadTemplate reads a prompt template file.
func LoadTemplate(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(raw), nil
}

func (b *Builder) Sentinel() string {
	return b.sentinel
}

// Initial renders the opening user instruction with content interpolated.
func (b *Builder) Initial(content string) (string, error) {
	var sb strings.Builder
	err := b.initial.Execute(&sb, data{Content: content, Sentinel: b.sentinel, Glossary: b.glossary})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// Continue returns the fixed instruction for continuation turns.
func (b *Builder) Continue() string {
	return b.cont
}

// Done reports whether reply carries the completion sentinel.
func (b *Builder) Done(reply string) bool {
	return strings.Contains(reply, b.sentinel)
}

func sortedTerms(m map[string]string) []Term {
	if len(m) == 0 {
		return nil
	}
	terms := make([]Term, 0, len(m))
	for src, tgt := range m {
		terms = append(terms, Term{Source: src, Target: tgt})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Source < terms[j].Source })
	return terms
}
