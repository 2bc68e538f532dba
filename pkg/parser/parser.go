package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/killallgit/stak/pkg/logger"
)

// DefaultCacheSize bounds the memo of recent parse results
const DefaultCacheSize = 50

var (
	filePattern    = regexp.MustCompile(`---filename:\s*(.+?)---([\s\S]*?)---end---`)
	commandPattern = regexp.MustCompile("```(?:bash|shell|cmd)\\n([\\s\\S]*?)```")
	treePattern    = regexp.MustCompile("```(?:tree|files|structure)\\n([\\s\\S]*?)```")
)

type span struct {
	typ      ChunkType
	start    int
	end      int
	content  string
	filename string
}

// Parser turns a (possibly still growing) model response into RenderChunks.
// It holds no scan state between calls, only a bounded memo keyed by the exact
// buffer, so it is safe for concurrent use.
type Parser struct {
	cache *lru.Cache[string, Result]
}

// New returns a Parser memoizing up to cacheSize results
func New(cacheSize int) *Parser {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Parser{cache: cache}
}

// Parse splits buffer into ordered, non-overlapping chunks. It never fails:
// markers without a closing counterpart stay in the surrounding text.
func (p *Parser) Parse(buffer string) Result {
	if cached, ok := p.cache.Get(buffer); ok {
		return cached.clone()
	}

	result := parse(buffer)
	p.cache.Add(buffer, result)
	logger.Debug("parser: %d bytes -> %s", len(buffer), result.Summary())
	return result.clone()
}

// Reset drops every memoized result
func (p *Parser) Reset() {
	p.cache.Purge()
}

// CacheLen reports how many results are memoized
func (p *Parser) CacheLen() int {
	return p.cache.Len()
}

func (r Result) clone() Result {
	out := Result{HasStructuredChunks: r.HasStructuredChunks}
	if r.Chunks != nil {
		out.Chunks = append([]RenderChunk(nil), r.Chunks...)
	}
	return out
}

func parse(buffer string) Result {
	if buffer == "" {
		return Result{}
	}

	spans := collect(buffer)

	var chunks []RenderChunk
	next := func(typ ChunkType, content string) *RenderChunk {
		chunks = append(chunks, RenderChunk{
			ID:      "chunk_" + strconv.Itoa(len(chunks)),
			Type:    typ,
			Content: content,
		})
		return &chunks[len(chunks)-1]
	}

	last := 0
	structured := false
	for _, s := range spans {
		if s.start < last {
			continue
		}
		if s.start > last {
			if text := strings.TrimSpace(buffer[last:s.start]); text != "" {
				next(ChunkText, text)
			}
		}

		c := next(s.typ, s.content)
		if s.typ == ChunkCodeFile {
			c.Filename = s.filename
			c.Language = LanguageForFile(s.filename)
			c.Metadata = &ChunkMetadata{Status: "complete", Size: len(s.content), Path: s.filename}
		}
		structured = true
		last = s.end
	}

	if last < len(buffer) {
		if text := strings.TrimSpace(buffer[last:]); text != "" {
			next(ChunkText, text)
		}
	}

	if len(chunks) == 0 {
		next(ChunkText, buffer)
	}

	return Result{Chunks: chunks, HasStructuredChunks: structured}
}

// collect runs every grammar to exhaustion and orders the matches by position
func collect(buffer string) []span {
	var spans []span

	for _, m := range filePattern.FindAllStringSubmatchIndex(buffer, -1) {
		spans = append(spans, span{
			typ:      ChunkCodeFile,
			start:    m[0],
			end:      m[1],
			filename: strings.TrimSpace(buffer[m[2]:m[3]]),
			content:  strings.TrimSpace(buffer[m[4]:m[5]]),
		})
	}

	for _, m := range commandPattern.FindAllStringSubmatchIndex(buffer, -1) {
		spans = append(spans, span{
			typ:     ChunkCommand,
			start:   m[0],
			end:     m[1],
			content: strings.TrimSpace(buffer[m[2]:m[3]]),
		})
	}

	for _, m := range treePattern.FindAllStringSubmatchIndex(buffer, -1) {
		spans = append(spans, span{
			typ:     ChunkFileTree,
			start:   m[0],
			end:     m[1],
			content: strings.TrimSuffix(buffer[m[2]:m[3]], "\n"),
		})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

// Commands returns the individual lines of every command chunk, in order
func Commands(chunks []RenderChunk) []string {
	var out []string
	for _, c := range chunks {
		if c.Type != ChunkCommand {
			continue
		}
		for _, line := range strings.Split(c.Content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

var defaultParser = New(DefaultCacheSize)

// Parse uses a shared package-level Parser
func Parse(buffer string) Result {
	return defaultParser.Parse(buffer)
}
