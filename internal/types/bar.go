package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/meridianlab/intraday/pkg/errors"
)

// Bar is an OHLCV aggregate for one symbol over a fixed time window.
// The same type carries both fine-grained gateway ticks and aggregated bars.
type Bar struct {
	Symbol string    `csv:"symbol" yaml:"symbol" json:"symbol" validate:"required"`
	Time   time.Time `csv:"time" yaml:"time" json:"time" validate:"required"`
	Open   float64   `csv:"open" yaml:"open" json:"open" validate:"gt=0"`
	High   float64   `csv:"high" yaml:"high" json:"high" validate:"gt=0,gtefield=Open,gtefield=Low,gtefield=Close"`
	Low    float64   `csv:"low" yaml:"low" json:"low" validate:"gt=0,ltefield=Open,ltefield=Close"`
	Close  float64   `csv:"close" yaml:"close" json:"close" validate:"gt=0"`
	Volume float64   `csv:"volume" yaml:"volume" json:"volume" validate:"gte=0"`
}

var barValidate = validator.New()

// Validate checks OHLCV sanity: positive prices, low <= open,close <= high,
// non-negative volume. Producers call this at the ingestion boundary; the
// aggregator itself never validates.
func (b *Bar) Validate() error {
	if err := barValidate.Struct(b); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidBar, "invalid bar", err)
	}

	return nil
}
