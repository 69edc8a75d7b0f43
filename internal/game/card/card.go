package card

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// DefaultSymbols 默认的八种动物图案，组成 16 张牌
var DefaultSymbols = []string{"🐶", "🐱", "🐭", "🐹", "🐰", "🦊", "🐻", "🐼"}

// Card 定义一张牌
type Card struct {
	ID      int
	Symbol  string
	FaceUp  bool
	Matched bool
}

// Hidden 是否仍需对客户端隐藏图案
func (c *Card) Hidden() bool {
	return !c.FaceUp && !c.Matched
}

// ShuffleFunc 洗牌函数，签名与 rand.Shuffle 一致
type ShuffleFunc func(n int, swap func(i, j int))

// Deck 定义一副牌，下标即牌 id
type Deck []Card

var (
	errNoSymbols       = errors.New("图案列表为空")
	errDuplicateSymbol = errors.New("图案重复")
	errEmptySymbol     = errors.New("图案不能为空字符串")
)

// ValidateSymbols 检查图案列表可以组成合法的牌组
func ValidateSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return errNoSymbols
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" {
			return errEmptySymbol
		}
		if seen[s] {
			return fmt.Errorf("%w: %s", errDuplicateSymbol, s)
		}
		seen[s] = true
	}
	return nil
}

// NewDeck 按「每个图案两张」生成牌组并洗牌，洗牌后重新编号 0..N-1
func NewDeck(symbols []string, shuffle ShuffleFunc) (Deck, error) {
	if err := ValidateSymbols(symbols); err != nil {
		return nil, err
	}
	if shuffle == nil {
		shuffle = rand.Shuffle
	}

	faces := make([]string, 0, len(symbols)*2)
	faces = append(faces, symbols...)
	faces = append(faces, symbols...)
	shuffle(len(faces), func(i, j int) {
		faces[i], faces[j] = faces[j], faces[i]
	})

	deck := make(Deck, len(faces))
	for i, s := range faces {
		deck[i] = Card{ID: i, Symbol: s}
	}
	return deck, nil
}

// Get 按 id 取牌
func (d Deck) Get(id int) (*Card, bool) {
	if id < 0 || id >= len(d) {
		return nil, false
	}
	return &d[id], true
}

// AllMatched 是否所有牌都已配对
func (d Deck) AllMatched() bool {
	if len(d) == 0 {
		return false
	}
	for i := range d {
		if !d[i].Matched {
			return false
		}
	}
	return true
}

// MatchedCount 已配对的牌数
func (d Deck) MatchedCount() int {
	n := 0
	for i := range d {
		if d[i].Matched {
			n++
		}
	}
	return n
}

// Validate 检查牌组不变量：偶数张、每个图案恰好两张、已配对必然翻开
func (d Deck) Validate() error {
	if len(d)%2 != 0 {
		return fmt.Errorf("牌数必须为偶数，当前 %d", len(d))
	}
	counts := make(map[string]int, len(d)/2)
	for i, c := range d {
		if c.ID != i {
			return fmt.Errorf("牌 %d 的编号错位: %d", i, c.ID)
		}
		if c.Matched && !c.FaceUp {
			return fmt.Errorf("牌 %d 已配对却未翻开", c.ID)
		}
		counts[c.Symbol]++
	}
	for s, n := range counts {
		if n != 2 {
			return fmt.Errorf("图案 %s 出现 %d 次", s, n)
		}
	}
	return nil
}
