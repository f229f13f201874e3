package model

import (
	"errors"
	"fmt"
	"sort"
)

// Denomination задаёт номинал купюры или монеты в целых денежных единицах.
type Denomination int64

// DenominationCount сопоставляет номиналу количество единиц.
// Отсутствующий ключ означает ноль.
type DenominationCount map[Denomination]int64

// DenominationSet хранит неизменяемый набор номиналов, упорядоченный по убыванию.
type DenominationSet struct {
	values []Denomination
}

// DefaultDenominations содержит номиналы по умолчанию.
var DefaultDenominations = MustDenominationSet(10000, 5000, 2000, 1000, 500, 100, 50, 10, 5, 1)

var errEmptyDenominationSet = errors.New("denomination set is empty")

// NewDenominationSet проверяет номиналы и возвращает набор, отсортированный по убыванию.
func NewDenominationSet(values ...int64) (DenominationSet, error) {
	if len(values) == 0 {
		return DenominationSet{}, errEmptyDenominationSet
	}

	seen := make(map[int64]struct{}, len(values))
	res := make([]Denomination, 0, len(values))
	for _, v := range values {
		if v <= 0 {
			return DenominationSet{}, fmt.Errorf("denomination must be positive, got %d", v)
		}
		if _, ok := seen[v]; ok {
			return DenominationSet{}, fmt.Errorf("duplicate denomination %d", v)
		}
		seen[v] = struct{}{}
		res = append(res, Denomination(v))
	}

	sort.Slice(res, func(i, j int) bool { return res[i] > res[j] })

	return DenominationSet{values: res}, nil
}

// MustDenominationSet работает как NewDenominationSet, но паникует при ошибке.
func MustDenominationSet(values ...int64) DenominationSet {
	s, err := NewDenominationSet(values...)
	if err != nil {
		panic(err)
	}
	return s
}

// Values возвращает копию номиналов по убыванию.
func (s DenominationSet) Values() []Denomination {
	res := make([]Denomination, len(s.values))
	copy(res, s.values)
	return res
}

// Len возвращает количество номиналов в наборе.
func (s DenominationSet) Len() int {
	return len(s.values)
}

// Contains сообщает, входит ли номинал в набор.
func (s DenominationSet) Contains(d Denomination) bool {
	for _, v := range s.values {
		if v == d {
			return true
		}
	}
	return false
}

// Zero возвращает счётчик, в котором каждый номинал набора равен нулю.
func (s DenominationSet) Zero() DenominationCount {
	res := make(DenominationCount, len(s.values))
	for _, v := range s.values {
		res[v] = 0
	}
	return res
}

// Total возвращает сумму номинал × количество.
func (c DenominationCount) Total() int64 {
	var total int64
	for d, n := range c {
		total += int64(d) * n
	}
	return total
}

// Clone возвращает независимую копию счётчика.
func (c DenominationCount) Clone() DenominationCount {
	res := make(DenominationCount, len(c))
	for d, n := range c {
		res[d] = n
	}
	return res
}

// AddInPlace прибавляет other к счётчику.
func (c DenominationCount) AddInPlace(other DenominationCount) {
	for d, n := range other {
		c[d] += n
	}
}

// SubInPlace вычитает other из счётчика.
func (c DenominationCount) SubInPlace(other DenominationCount) {
	for d, n := range other {
		c[d] -= n
	}
}

// Add возвращает новый счётчик c + other.
func (c DenominationCount) Add(other DenominationCount) DenominationCount {
	res := c.Clone()
	res.AddInPlace(other)
	return res
}

// Sub возвращает новый счётчик c - other.
func (c DenominationCount) Sub(other DenominationCount) DenominationCount {
	res := c.Clone()
	res.SubInPlace(other)
	return res
}

// Normalize возвращает копию без нулевых позиций.
func (c DenominationCount) Normalize() DenominationCount {
	res := make(DenominationCount, len(c))
	for d, n := range c {
		if n != 0 {
			res[d] = n
		}
	}
	return res
}

// Covers сообщает, хватает ли в счётчике каждого номинала из other.
func (c DenominationCount) Covers(other DenominationCount) bool {
	for d, n := range other {
		if c[d] < n {
			return false
		}
	}
	return true
}

// HasNegative сообщает, есть ли в счётчике отрицательные позиции.
func (c DenominationCount) HasNegative() bool {
	for _, n := range c {
		if n < 0 {
			return true
		}
	}
	return false
}

// Equal сравнивает счётчики, считая отсутствующие ключи нулями.
func (c DenominationCount) Equal(other DenominationCount) bool {
	for d, n := range c {
		if other[d] != n {
			return false
		}
	}
	for d, n := range other {
		if c[d] != n {
			return false
		}
	}
	return true
}
