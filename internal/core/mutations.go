package core

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// The functions below never modify their input; each returns a new snapshot.

// AddOperation validates op and prepends it, keeping the list most recent
// first.
func AddOperation(d Document, op Operation) (Document, error) {
	if err := op.Validate(); err != nil {
		return d, err
	}
	out := d.Clone()
	out.Operations = append([]Operation{op}, out.Operations...)
	return out, nil
}

func DeleteOperation(d Document, id int64) (Document, error) {
	idx := slices.IndexFunc(d.Operations, func(op Operation) bool { return op.ID == id })
	if idx < 0 {
		return d, ErrOperationNotFound
	}
	out := d.Clone()
	out.Operations = slices.Delete(out.Operations, idx, idx+1)
	return out, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CategoryID derives the stored identifier from a display name:
// "Eating Out" -> "eating_out".
func CategoryID(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}

func AddCategory(d Document, t OperationType, name string) (Document, string, error) {
	if !t.IsValid() {
		return d, "", ErrInvalidType
	}
	id := CategoryID(name)
	if id == "" {
		return d, "", ErrEmptyCategory
	}
	if d.Categories.Contains(t, id) {
		return d, id, ErrCategoryExists
	}
	out := d.Clone()
	if t == Income {
		out.Categories.Income = append(out.Categories.Income, id)
	} else {
		out.Categories.Expense = append(out.Categories.Expense, id)
	}
	return out, id, nil
}

func RemoveCategory(d Document, t OperationType, id string) (Document, error) {
	if !t.IsValid() {
		return d, ErrInvalidType
	}
	if !d.Categories.Contains(t, id) {
		return d, ErrCategoryNotFound
	}
	out := d.Clone()
	keep := func(list []string) []string {
		return slices.DeleteFunc(list, func(v string) bool { return v == id })
	}
	if t == Income {
		out.Categories.Income = keep(out.Categories.Income)
	} else {
		out.Categories.Expense = keep(out.Categories.Expense)
	}
	return out, nil
}

// AddGoal appends g with no progress recorded.
func AddGoal(d Document, g Goal) (Document, error) {
	g.Current = Money{}
	if err := g.Validate(); err != nil {
		return d, err
	}
	if g.Created.IsZero() {
		g.Created = time.Now().UTC()
	}
	out := d.Clone()
	out.Goals = append(out.Goals, g)
	return out, nil
}

func RemoveGoal(d Document, id int64) (Document, error) {
	idx := slices.IndexFunc(d.Goals, func(g Goal) bool { return g.ID == id })
	if idx < 0 {
		return d, ErrGoalNotFound
	}
	out := d.Clone()
	out.Goals = slices.Delete(out.Goals, idx, idx+1)
	return out, nil
}

// AddToGoal records a contribution. Progress is not capped at the target.
func AddToGoal(d Document, id int64, amount Money) (Document, error) {
	if err := amount.Validate(); err != nil {
		return d, err
	}
	idx := slices.IndexFunc(d.Goals, func(g Goal) bool { return g.ID == id })
	if idx < 0 {
		return d, ErrGoalNotFound
	}
	out := d.Clone()
	out.Goals[idx].Current = out.Goals[idx].Current.Add(amount)
	return out, nil
}

func SetLimit(d Document, category string, amount Money) (Document, error) {
	if strings.TrimSpace(category) == "" {
		return d, ErrEmptyCategory
	}
	if err := amount.Validate(); err != nil {
		return d, err
	}
	out := d.Clone()
	out.Limits[category] = amount
	return out, nil
}

func RemoveLimit(d Document, category string) Document {
	out := d.Clone()
	delete(out.Limits, category)
	return out
}

func UpdateSetting(d Document, key string, value any) (Document, error) {
	if strings.TrimSpace(key) == "" {
		return d, ErrInvalidSetting
	}
	out := d.Clone()
	out.Settings[key] = value
	return out, nil
}
