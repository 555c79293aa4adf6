package shuffle

import "github.com/stemsi/exstem-proctor/internal/model"

// Order is the persisted form of a shuffled sequence: question ids in
// presentation order plus each question's option ids in presentation order.
type Order struct {
	Questions []string            `json:"questions"`
	Options   map[string][]string `json:"options"`
}

// OrderOf captures the presentation order of shuffled.
func OrderOf(shuffled []model.Question) Order {
	o := Order{
		Questions: make([]string, len(shuffled)),
		Options:   make(map[string][]string, len(shuffled)),
	}
	for i, q := range shuffled {
		o.Questions[i] = q.ID
		ids := make([]string, len(q.Options))
		for j, opt := range q.Options {
			ids[j] = opt.ID
		}
		o.Options[q.ID] = ids
	}
	return o
}

// Restore rebuilds the sequence described by o from source. It reports false
// when o does not describe exactly the questions and options of source, in
// which case the caller should shuffle afresh.
func Restore(source []model.Question, o Order) ([]model.Question, bool) {
	if len(o.Questions) != len(source) {
		return nil, false
	}

	byID := make(map[string]model.Question, len(source))
	for _, q := range source {
		byID[q.ID] = q
	}

	out := make([]model.Question, 0, len(source))
	for _, qid := range o.Questions {
		q, ok := byID[qid]
		if !ok {
			return nil, false
		}
		delete(byID, qid)

		optIDs := o.Options[qid]
		if len(optIDs) != len(q.Options) {
			return nil, false
		}
		optByID := make(map[string]model.Option, len(q.Options))
		for _, opt := range q.Options {
			optByID[opt.ID] = opt
		}

		c := q.Clone()
		for j, oid := range optIDs {
			opt, ok := optByID[oid]
			if !ok {
				return nil, false
			}
			delete(optByID, oid)
			c.Options[j] = opt
		}
		out = append(out, c)
	}
	return out, true
}
