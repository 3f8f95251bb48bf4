package grading

type QuestionType string

const (
	TypeMCQSingle QuestionType = "mcq_single"
	TypeMCQMulti  QuestionType = "mcq_multi"
	TypeTrueFalse QuestionType = "true_false"
	TypeShortText QuestionType = "short_text"
	TypeLongText  QuestionType = "long_text"
	TypeNumber    QuestionType = "number"
)

func (t QuestionType) Valid() bool {
	switch t {
	case TypeMCQSingle, TypeMCQMulti, TypeTrueFalse, TypeShortText, TypeLongText, TypeNumber:
		return true
	}
	return false
}

// IsText reports whether answers of this type need a human to award points.
func (t QuestionType) IsText() bool { return t == TypeShortText || t == TypeLongText }

// Option is one answer choice. For number questions the single correct
// option's label holds the expected value.
type Option struct {
	ID        string
	Label     string
	IsCorrect bool
}

// Question is the view of a question the grader needs.
type Question struct {
	ID        string
	Type      QuestionType
	Points    float64
	Tolerance *float64
	Options   []Option
}

// Policy carries the test-level settings that change how points are awarded.
type Policy struct {
	NegativeMarking bool
	PenaltyFraction float64 // of the question's points, applied to wrong single-choice answers
}

// Result is the outcome of grading a single question response.
type Result struct {
	IsCorrect     *bool    // nil when a human has to decide
	AwardedPoints float64  // may be negative under negative marking
	NeedsManual   bool     // an instructor has to award the points
	Feedback      []string // optional notes
}

// Strategy grades a single question type.
type Strategy interface {
	Grade(q Question, r Response, pol Policy) Result
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(q Question, r Response, pol Policy) Result
}

type defaultGrader struct {
	strategies map[QuestionType]Strategy
}

func (g *defaultGrader) Grade(q Question, r Response, pol Policy) Result {
	if r == nil {
		r = Empty{}
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{NeedsManual: true, Feedback: []string{"no strategy available for " + string(q.Type)}}
	}
	return s.Grade(q, r, pol)
}

type Opt func(*config)

type config struct {
	MaxEditDistance int // reference-answer hint for text questions
}

func WithMaxEditDistance(n int) Opt { return func(c *config) { c.MaxEditDistance = n } }

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader(opts ...Opt) Grader {
	cfg := &config{MaxEditDistance: 2}
	for _, o := range opts {
		o(cfg)
	}
	text := textStrategy{maxEdit: cfg.MaxEditDistance}
	return &defaultGrader{
		strategies: map[QuestionType]Strategy{
			TypeMCQSingle: singleChoiceStrategy{},
			TypeTrueFalse: singleChoiceStrategy{},
			TypeMCQMulti:  multiChoiceStrategy{},
			TypeNumber:    numberStrategy{},
			TypeShortText: text,
			TypeLongText:  text,
		},
	}
}

var std = NewDefaultGrader()

// Grade grades with the default strategies.
func Grade(q Question, r Response, pol Policy) Result { return std.Grade(q, r, pol) }

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(q Question, r Response, pol Policy) Result {
	sel, ok := r.(SelectedOne)
	if !ok {
		return incorrect(0)
	}
	key := ""
	for _, o := range q.Options {
		if o.IsCorrect {
			key = o.ID
			break
		}
	}
	if key != "" && sel.ID == key {
		return correct(q.Points)
	}
	if pol.NegativeMarking && pol.PenaltyFraction > 0 {
		return incorrect(-pol.PenaltyFraction * q.Points)
	}
	return incorrect(0)
}

type multiChoiceStrategy struct{}

// Exact set match only; a subset or superset of the key earns nothing.
func (multiChoiceStrategy) Grade(q Question, r Response, _ Policy) Result {
	sel, ok := r.(SelectedMany)
	if !ok {
		return incorrect(0)
	}
	key := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		if o.IsCorrect {
			key = append(key, o.ID)
		}
	}
	if len(key) > 0 && setEqual(toSet(key), toSet(sel.IDs)) {
		return correct(q.Points)
	}
	return incorrect(0)
}

type textStrategy struct{ maxEdit int }

func (s textStrategy) Grade(q Question, r Response, _ Policy) Result {
	res := Result{NeedsManual: true}
	txt, ok := r.(TextValue)
	if !ok {
		res.Feedback = append(res.Feedback, "no answer given")
		return res
	}
	res.Feedback = append(res.Feedback, "manual grading required")
	if hint := s.referenceHint(q, txt.Text); hint != "" {
		res.Feedback = append(res.Feedback, hint)
	}
	return res
}

func (s textStrategy) referenceHint(q Question, text string) string {
	got := normalize(text)
	for _, o := range q.Options {
		if !o.IsCorrect || o.Label == "" {
			continue
		}
		ref := normalize(o.Label)
		if ref == got {
			return "matches reference answer"
		}
		if s.maxEdit > 0 && levenshtein(ref, got) <= s.maxEdit {
			return "close to reference answer"
		}
	}
	return ""
}

// helpers

func correct(points float64) Result {
	t := true
	return Result{IsCorrect: &t, AwardedPoints: points}
}

func incorrect(points float64) Result {
	f := false
	return Result{IsCorrect: &f, AwardedPoints: points}
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
