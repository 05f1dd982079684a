// Package sanitizer implements the Injection Defense Sanitizer: a fixed
// pipeline of detectors that runs over every untrusted input (inbox
// messages, tool results, skill instructions) before it reaches the
// inference collaborator.
package sanitizer

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

// ThreatLevel classifies how dangerous a sanitized input looks.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

var threatRank = map[ThreatLevel]int{
	ThreatLow:      0,
	ThreatMedium:   1,
	ThreatHigh:     2,
	ThreatCritical: 3,
}

func maxThreat(a, b ThreatLevel) ThreatLevel {
	if threatRank[b] > threatRank[a] {
		return b
	}
	return a
}

// Mode parameterizes post-processing; the same detector catalogue runs in
// every mode, but block/strip behavior and output shaping differ.
type Mode string

const (
	// ModeMessage is a plain inbound message destined for the inference
	// collaborator's user turn. Prompt-boundary hits block.
	ModeMessage Mode = "message"

	// ModeToolResult sanitizes a tool's own output. It is never blocked:
	// the agent needs to see that a tool call happened, even if its
	// result looks adversarial, but the content is still stripped.
	ModeToolResult Mode = "tool_result"

	// ModeSkillInstruction sanitizes an installed skill's instructions,
	// stripping anything that looks like tool-call syntax in addition to
	// the standard detectors.
	ModeSkillInstruction Mode = "skill_instruction"

	// ModeSocialAddress sanitizes a free-form handle or address (e.g. a
	// messaging recipient) down to a safe, bounded identifier.
	ModeSocialAddress Mode = "social_address"
)

// MaxInputBytes is the hard size ceiling; anything larger is blocked
// outright without running the rest of the pipeline.
const MaxInputBytes = 50 * 1024

const placeholder = "[REDACTED]"

// Result is what Sanitize returns for a single input.
type Result struct {
	Content     string
	Blocked     bool
	ThreatLevel ThreatLevel
	Reason      string
}

// boundaryTagPatterns strip provider/prompt framing tokens an attacker
// might inject to escape the user-turn boundary and speak as the system.
var boundaryTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)</system>`),
	regexp.MustCompile(`(?is)\[INST\].*?\[/INST\]`),
	regexp.MustCompile(`(?i)<\|im_[a-z_]+\|>`),
	regexp.MustCompile(`(?i)<\|endoftext\|>`),
	regexp.MustCompile(`(?i)<<SYS>>`),
}

// injectionCatalogue is a fixed, multi-language set of common prompt
// injection phrasings. Coverage is deliberately broad rather than precise:
// a false positive just means extra scrutiny, a false negative means none.
var injectionCatalogue = map[string][]*regexp.Regexp{
	"en": {
		regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) (instructions|prompts|rules)`),
		regexp.MustCompile(`(?i)disregard (your|all|any) (previous|prior) (instructions|guidelines)`),
		regexp.MustCompile(`(?i)you are now (in )?(developer|debug|god|dan|unrestricted) mode`),
		regexp.MustCompile(`(?i)reveal (your|the) (system prompt|hidden instructions)`),
		regexp.MustCompile(`(?i)act as if you have no (restrictions|guardrails|policy)`),
		regexp.MustCompile(`(?i)this is (a|an) (override|admin) command`),
	},
	"zh": {
		regexp.MustCompile(`忽略(之前|以上|上述)(的)?(指令|指示|规则)`),
		regexp.MustCompile(`现在(你|您)处于(开发者|无限制)模式`),
	},
	"ru": {
		regexp.MustCompile(`(?i)игнорируй (предыдущие|все) (инструкции|команды)`),
		regexp.MustCompile(`(?i)ты теперь в режиме без ограничений`),
	},
	"es": {
		regexp.MustCompile(`(?i)ignora (las )?(instrucciones|reglas) (anteriores|previas)`),
		regexp.MustCompile(`(?i)ahora estás en modo (desarrollador|sin restricciones)`),
	},
	"ar": {
		regexp.MustCompile(`تجاهل (التعليمات|الأوامر) (السابقة|الماضية)`),
	},
	"de": {
		regexp.MustCompile(`(?i)ignoriere (alle )?(vorherigen|bisherigen) (anweisungen|regeln)`),
		regexp.MustCompile(`(?i)du bist jetzt im (entwickler|uneingeschränkten) modus`),
	},
	"fr": {
		regexp.MustCompile(`(?i)ignore(z)? (les )?(instructions|règles) (précédentes|antérieures)`),
		regexp.MustCompile(`(?i)tu es maintenant en mode (développeur|sans restriction)`),
	},
	"ja": {
		regexp.MustCompile(`(以前|上記)の(指示|指令|ルール)を無視`),
		regexp.MustCompile(`今から(開発者|無制限)モードになって`),
	},
}

var financialManipulationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)transfer (all|every|100%? of) (your|the) (funds|credits|balance)`),
	regexp.MustCompile(`(?i)send (money|credits|funds) to (this|my) (wallet|address)`),
	regexp.MustCompile(`(?i)approve this transaction without (review|confirmation)`),
	regexp.MustCompile(`(?i)bypass (the )?(spend|treasury) (limit|cap)`),
}

var selfHarmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)delete (your|all) (own )?(files|memory|logs) (permanently|irreversibly)`),
	regexp.MustCompile(`(?i)shut (yourself|your process) down permanently`),
	regexp.MustCompile(`(?i)wipe (your|the) (wallet|private key|credentials)`),
	regexp.MustCompile(`(?i)terminate your own (process|existence)`),
}

var authorityClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi am (your|the) (creator|owner|administrator|developer)\b`),
	regexp.MustCompile(`(?i)as (your|the) (creator|operator|root user), i (command|order|instruct) you`),
	regexp.MustCompile(`(?i)this message (comes|is sent) (directly )?from (the )?(system|platform) operators?`),
}

var (
	base64Pattern        = regexp.MustCompile(`[A-Za-z0-9+/]{60,}={0,2}`)
	unicodeEscapePattern = regexp.MustCompile(`(\\u[0-9a-fA-F]{4}){4,}`)
	hexEscapePattern     = regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){6,}`)
	cipherReferencePattern = regexp.MustCompile(`(?i)\b(base64[- ]?decode|rot13|caesar cipher|from_base64|hex[- ]?decode)\b`)
	toolCallSyntaxPattern  = regexp.MustCompile(`(?is)<tool_call>.*?</tool_call>|\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"arguments"\s*:`)
	socialAddressAllowed   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Sanitizer runs the detector pipeline and enforces per-source rate
// limiting. It is safe for concurrent use.
type Sanitizer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// Option configures Sanitizer construction.
type Option func(*Sanitizer)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sanitizer) { s.now = now }
}

// New constructs a Sanitizer.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{limiters: make(map[string]*rate.Limiter), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// maxPerMinute is the per-source input rate ceiling; the 11th input within
// a rolling minute is rejected.
const maxPerMinute = 10

func (s *Sanitizer) limiterFor(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(rate.Limit(maxPerMinute)/60, maxPerMinute)
		s.limiters[source] = l
	}
	return l
}

// Sanitize runs the full detector pipeline over content originating from
// source, shaped by mode. Rate checks run first: a source over its budget
// is blocked before any detector sees the content.
func (s *Sanitizer) Sanitize(source string, mode Mode, content string) Result {
	if source != "" && !s.limiterFor(source).AllowN(s.now(), 1) {
		return Result{Content: "", Blocked: true, ThreatLevel: ThreatMedium, Reason: "Rate limit exceeded"}
	}

	if len(content) > MaxInputBytes {
		return Result{Content: "", Blocked: true, ThreatLevel: ThreatCritical, Reason: "input exceeds size limit"}
	}

	level := ThreatLow
	blocked := false
	reason := ""

	for _, patterns := range injectionCatalogue {
		for _, re := range patterns {
			if re.MatchString(content) {
				level = ThreatCritical
				blocked = true
				reason = "multi-language injection pattern matched"
			}
		}
	}

	boundaryHit := false
	for _, re := range boundaryTagPatterns {
		if re.MatchString(content) {
			boundaryHit = true
			content = re.ReplaceAllString(content, placeholder)
		}
	}
	if boundaryHit {
		level = ThreatCritical
		if mode == ModeMessage {
			blocked = true
			if reason == "" {
				reason = "prompt boundary tag detected"
			}
		}
	}

	for _, re := range financialManipulationPatterns {
		if re.MatchString(content) {
			level = ThreatCritical
			blocked = true
			if reason == "" {
				reason = "financial manipulation pattern matched"
			}
		}
	}
	for _, re := range selfHarmPatterns {
		if re.MatchString(content) {
			level = ThreatCritical
			blocked = true
			if reason == "" {
				reason = "self-harm pattern matched"
			}
		}
	}
	for _, re := range authorityClaimPatterns {
		if re.MatchString(content) {
			level = maxThreat(level, ThreatMedium)
		}
	}

	if looksObfuscated(content) {
		level = maxThreat(level, ThreatHigh)
	}

	// tool_result never blocks regardless of what the detectors found;
	// the agent still needs visibility into what its own tool returned.
	if mode == ModeToolResult {
		blocked = false
	}

	content = postProcess(mode, content)

	return Result{Content: content, Blocked: blocked, ThreatLevel: level, Reason: reason}
}

func postProcess(mode Mode, content string) string {
	switch mode {
	case ModeSocialAddress:
		stripped := socialAddressAllowed.ReplaceAllString(content, "")
		if len(stripped) > 128 {
			stripped = stripped[:128]
		}
		if stripped == "" {
			stripped = "unknown"
		}
		return stripped
	case ModeSkillInstruction:
		return toolCallSyntaxPattern.ReplaceAllString(content, placeholder)
	default:
		return content
	}
}

// looksObfuscated flags content carrying long base64 runs, dense unicode
// or hex escape sequences, a mention of a known cipher, or a mix of Latin
// and confusable non-Latin letters within a single word (a cheap
// homoglyph heuristic).
func looksObfuscated(content string) bool {
	if base64Pattern.MatchString(content) {
		return true
	}
	if unicodeEscapePattern.MatchString(content) {
		return true
	}
	if hexEscapePattern.MatchString(content) {
		return true
	}
	if cipherReferencePattern.MatchString(content) {
		return true
	}
	return hasHomoglyphMix(content)
}

// hasHomoglyphMix reports whether any whitespace-delimited token mixes
// Latin letters with letters from another script, a pattern legitimate
// text rarely produces but homoglyph substitution attacks do.
func hasHomoglyphMix(content string) bool {
	for _, word := range strings.Fields(content) {
		sawLatin, sawOther := false, false
		for _, r := range word {
			if !unicode.IsLetter(r) {
				continue
			}
			switch {
			case r <= unicode.MaxLatin1 && unicode.Is(unicode.Latin, r):
				sawLatin = true
			case unicode.Is(unicode.Cyrillic, r), unicode.Is(unicode.Greek, r):
				sawOther = true
			}
		}
		if sawLatin && sawOther {
			return true
		}
	}
	return false
}
