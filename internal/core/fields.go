package core

import "fmt"

// Category separates the income series from the expense series.
type Category int

const (
	Income Category = iota + 1
	Expense
)

func (c Category) String() string {
	switch c {
	case Income:
		return "income"
	case Expense:
		return "expenses"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory accepts "income" and "expense"/"expenses".
func ParseCategory(s string) (Category, error) {
	switch s {
	case "income":
		return Income, nil
	case "expense", "expenses":
		return Expense, nil
	}
	return 0, fmt.Errorf("%w: category %q", ErrUnknownField, s)
}

// Field selects one of the nine series of a Record. The set is closed:
// only the values declared below are valid, and the zero Field is not.
type Field struct {
	category Category
	key      string
}

var (
	IncomeFixed       = Field{Income, "fixed"}
	IncomeExtra       = Field{Income, "extra"}
	IncomeInvestments = Field{Income, "investments"}

	ExpenseFixed            = Field{Expense, "fixed"}
	ExpenseCreditCard       = Field{Expense, "creditCard"}
	ExpenseMonthlyPurchases = Field{Expense, "monthlyPurchases"}
	ExpenseButcher          = Field{Expense, "butcher"}
	ExpenseWeekly           = Field{Expense, "weekly"}
	ExpenseOther            = Field{Expense, "otherExpenses"}
)

var (
	incomeFields  = []Field{IncomeFixed, IncomeExtra, IncomeInvestments}
	expenseFields = []Field{
		ExpenseFixed, ExpenseCreditCard, ExpenseMonthlyPurchases,
		ExpenseButcher, ExpenseWeekly, ExpenseOther,
	}
)

// IncomeFields lists the income series in display order.
func IncomeFields() []Field { return append([]Field(nil), incomeFields...) }

// ExpenseFields lists the expense series in display order.
func ExpenseFields() []Field { return append([]Field(nil), expenseFields...) }

// AllFields lists income fields followed by expense fields.
func AllFields() []Field {
	return append(IncomeFields(), expenseFields...)
}

// ParseField maps the wire names used in JSON records to a Field.
func ParseField(category, name string) (Field, error) {
	c, err := ParseCategory(category)
	if err != nil {
		return Field{}, err
	}
	fields := incomeFields
	if c == Expense {
		fields = expenseFields
	}
	for _, f := range fields {
		if f.key == name {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, c, name)
}

// Valid reports whether f is one of the declared fields.
func (f Field) Valid() bool {
	for _, known := range AllFields() {
		if f == known {
			return true
		}
	}
	return false
}

func (f Field) Category() Category { return f.category }

// Key is the JSON key of the series inside its category.
func (f Field) Key() string { return f.key }

func (f Field) String() string {
	if !f.Valid() {
		return "invalid"
	}
	return f.category.String() + "." + f.key
}
