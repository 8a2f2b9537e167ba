package domain

import "time"

// Money is a monetary value in whole rupiah.
type Money = int64

// DiscountType enumerates supported discount kinds.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount reduces a unit price either by a percentage or a fixed amount.
// A nil Discount or a non-positive value means no discount.
type Discount struct {
	Type  DiscountType `json:"type"`
	Value float64      `json:"value"`
}

// Applies reports whether the discount actually reduces a price.
func (d *Discount) Applies() bool {
	return d != nil && d.Value > 0
}

// WholesaleTier overrides the regular unit price at and above Min units.
// A nil Max applies the tier unboundedly above Min.
type WholesaleTier struct {
	Min   int   `json:"min"`
	Max   *int  `json:"max"`
	Price Money `json:"price"`
}

// Variation is an independently priced and stocked sub-product. The parent
// product's discount applies to every variation.
type Variation struct {
	Name            string          `json:"name"`
	Price           Money           `json:"price"`
	Stock           *int            `json:"stock"`
	WholesalePrices []WholesaleTier `json:"wholesalePrices,omitempty"`
}

// Product is the catalog document. Stock is nil for unlimited/untracked
// products. When Variations is non-empty the parent price and stock are not
// used for cart pricing; each variation sells in its own right.
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Price         Money     `json:"price"`
	PurchasePrice Money     `json:"purchasePrice"`
	Stock         *int      `json:"stock"`
	Barcode       string    `json:"barcode,omitempty"`
	Category      string    `json:"category,omitempty"`
	Discount      *Discount `json:"discount,omitempty"`
	// DiscountPercentage is the legacy flat field kept for stored data
	// written before structured discounts; NormalizeProduct folds it into
	// Discount at the persistence boundary.
	DiscountPercentage float64         `json:"discountPercentage,omitempty"`
	WholesalePrices    []WholesaleTier `json:"wholesalePrices,omitempty"`
	Variations         []Variation     `json:"variations,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// HasVariations reports whether the product sells through variations only.
func (p *Product) HasVariations() bool {
	return p != nil && len(p.Variations) > 0
}

// EffectiveDiscount resolves the structured discount, falling back to the
// legacy flat percentage.
func (p *Product) EffectiveDiscount() *Discount {
	if p.Discount.Applies() {
		return p.Discount
	}
	if p.DiscountPercentage > 0 {
		return &Discount{Type: DiscountPercentage, Value: p.DiscountPercentage}
	}
	return nil
}

// AggregateStock sums variation stock for display; untracked variations
// count as zero.
func (p *Product) AggregateStock() int {
	total := 0
	for _, v := range p.Variations {
		if v.Stock != nil {
			total += *v.Stock
		}
	}
	return total
}

// CartLine is a priced cart entry. VariationIndex is nil for plain products.
// BasePrice/EffectivePrice/IsWholesale are recomputed on every quantity
// change and frozen once the line is snapshotted into a transaction.
type CartLine struct {
	ProductID      int64     `json:"productId"`
	VariationIndex *int      `json:"variationIndex,omitempty"`
	VariationName  string    `json:"variationName,omitempty"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	Price          Money     `json:"price"`
	BasePrice      Money     `json:"basePrice"`
	EffectivePrice float64   `json:"effectivePrice"`
	IsWholesale    bool      `json:"isWholesale"`
	Discount       *Discount `json:"discount,omitempty"`
	Stock          *int      `json:"stock"`
}

// SameUnit reports whether the line references the given sellable unit.
func (l CartLine) SameUnit(productID int64, variationIndex *int) bool {
	if l.ProductID != productID {
		return false
	}
	if l.VariationIndex == nil || variationIndex == nil {
		return l.VariationIndex == nil && variationIndex == nil
	}
	return *l.VariationIndex == *variationIndex
}

// Tracked reports whether the line's stock is tracked.
func (l CartLine) Tracked() bool {
	return l.Stock != nil
}

// FeeType mirrors DiscountType for cart-level fees and taxes.
type FeeType string

const (
	FeePercentage FeeType = "percentage"
	FeeFixed      FeeType = "fixed"
)

// Fee is a fee/tax definition. Carts and transactions hold value snapshots,
// so later edits never change history.
type Fee struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Type      FeeType `json:"type"`
	Value     float64 `json:"value"`
	IsDefault bool    `json:"isDefault"`
	IsTax     bool    `json:"isTax"`
	// Amount is only populated on transaction snapshots.
	Amount Money `json:"amount,omitempty"`
}

// Cart is the in-session order under construction.
type Cart struct {
	Items        []CartLine `json:"items"`
	Fees         []Fee      `json:"fees"`
	CustomerID   *int64     `json:"customerId"`
	CustomerName string     `json:"customerName,omitempty"`
}

// PendingTransaction is a held cart snapshot.
type PendingTransaction struct {
	ID        int64     `json:"id"`
	Cart      Cart      `json:"cart"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentMethod labels follow the persisted Indonesian convention.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "TUNAI"
	PaymentQRIS PaymentMethod = "QRIS"
	PaymentDebt PaymentMethod = "PIUTANG"
)

// Transaction is the immutable settled sale. Change is negative only for
// PIUTANG, where it denotes the receivable shortfall. Field names match the
// stored document format and must not change.
type Transaction struct {
	ID            int64         `json:"id"`
	Items         []CartLine    `json:"items"`
	Subtotal      Money         `json:"subtotal"`
	TotalDiscount Money         `json:"totalDiscount"`
	Fees          []Fee         `json:"fees"`
	Total         Money         `json:"total"`
	Donation      Money         `json:"donation"`
	GrandTotal    Money         `json:"grandTotal"`
	CashPaid      Money         `json:"cashPaid"`
	Change        Money         `json:"change"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	CustomerID    *int64        `json:"customerId"`
	CustomerName  string        `json:"customerName,omitempty"`
	UserID        *int64        `json:"userId"`
	UserName      string        `json:"userName"`
	Date          time.Time     `json:"date"`
	PointsEarned  int           `json:"pointsEarned"`
}

// LedgerEntryType distinguishes receivable increases from payments.
type LedgerEntryType string

const (
	// LedgerDebit increases what the contact owes the store.
	LedgerDebit LedgerEntryType = "debit"
	// LedgerCredit records a payment against the balance.
	LedgerCredit LedgerEntryType = "credit"
)

// LedgerEntry is one row of a contact's simplified running balance.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	ContactID   int64           `json:"contactId"`
	Amount      Money           `json:"amount"`
	Type        LedgerEntryType `json:"type"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	UserID      *int64          `json:"userId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ContactType separates customers from suppliers.
type ContactType string

const (
	ContactCustomer ContactType = "customer"
	ContactSupplier ContactType = "supplier"
)

// Contact is a customer or supplier. Points accrue for customers only.
type Contact struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Type      ContactType `json:"type"`
	Phone     string      `json:"phone,omitempty"`
	Barcode   string      `json:"barcode,omitempty"`
	Points    int         `json:"points"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// StockChangeType enumerates audit reason codes. The mixed casing matches
// the stored documents.
type StockChangeType string

const (
	StockSale       StockChangeType = "sale"
	StockReturn     StockChangeType = "return"
	StockAdjustment StockChangeType = "Adjustment"
	StockInitial    StockChangeType = "Initial"
)

// StockHistory is an append-only stock audit entry. ChangeAmount is always
// NewStock−OldStock and never zero; zero-change writes are suppressed at the
// logging helper.
type StockHistory struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"productId"`
	ProductName   string          `json:"productName"`
	VariationName string          `json:"variationName,omitempty"`
	OldStock      int             `json:"oldStock"`
	NewStock      int             `json:"newStock"`
	ChangeAmount  int             `json:"changeAmount"`
	Type          StockChangeType `json:"type"`
	Reason        string          `json:"reason"`
	UserID        *int64          `json:"userId"`
	UserName      string          `json:"userName"`
	Date          time.Time       `json:"date"`
}

// User identifies the cashier recorded on transactions and audit entries.
// Authentication itself lives outside this service.
type User struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}
