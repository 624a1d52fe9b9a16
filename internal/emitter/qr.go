package emitter

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/printlot-io/printlot/internal/core/model"
)

// qrEdge is the square pixel size required by the print templates.
const qrEdge = 388

// qrPayload fills the dealership's URL template for one vehicle. {vin} and
// {stock} are the supported placeholders; QRKeySource "stock" additionally
// maps {vin} to the stock number for configs written against older templates.
func qrPayload(rules model.OutputRules, v model.Vehicle) string {
	key := v.VIN
	if rules.QRKeySource == "stock" {
		key = v.Stock
	}
	payload := strings.ReplaceAll(rules.QRURLTemplate, "{vin}", key)
	return strings.ReplaceAll(payload, "{stock}", v.Stock)
}

// writeQR renders a 388x388 ECC-M QR PNG at <dir>/<vin>.png.
func writeQR(dir string, v model.Vehicle, rules model.OutputRules) error {
	code, err := qr.Encode(qrPayload(rules, v), qr.M, qr.Auto)
	if err != nil {
		return fmt.Errorf("encode qr for %s: %w", v.VIN, err)
	}
	scaled, err := barcode.Scale(code, qrEdge, qrEdge)
	if err != nil {
		return fmt.Errorf("scale qr for %s: %w", v.VIN, err)
	}

	f, err := os.Create(filepath.Join(dir, v.VIN+".png"))
	if err != nil {
		return err
	}
	if err := png.Encode(f, scaled); err != nil {
		f.Close()
		return fmt.Errorf("write qr png for %s: %w", v.VIN, err)
	}
	return f.Close()
}
