package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

type toppingRow struct {
	ProductID string          `json:"productId"`
	Topping   string          `json:"topping"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type lineItemRow struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func encodeToppings(toppings []domain.Topping) ([]byte, error) {
	rows := make([]toppingRow, 0, len(toppings))
	for _, topping := range toppings {
		rows = append(rows, toppingRow(topping))
	}
	return json.Marshal(rows)
}

func decodeToppings(raw []byte) ([]domain.Topping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []toppingRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal toppings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	toppings := make([]domain.Topping, 0, len(rows))
	for _, row := range rows {
		toppings = append(toppings, domain.Topping(row))
	}
	return toppings, nil
}

func encodeItems(items []domain.LineItem) ([]byte, error) {
	rows := make([]lineItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, lineItemRow(item))
	}
	return json.Marshal(rows)
}

func decodeItems(raw []byte) ([]domain.LineItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []lineItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	items := make([]domain.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.LineItem(row))
	}
	return items, nil
}
