package receipt

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/routefare/routefare/internal/ledger"
)

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: sans-serif; margin: 2rem; }
h1 { font-size: 1.2rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td { padding: 0.3rem 1rem 0.3rem 0; }
.total { font-weight: bold; }
</style>
</head>
<body>
<h1>Transport Fee Receipt</h1>
<p>Receipt No: {{.Due.ReceiptNumber}}</p>
<table>
<tr><td>Student ID</td><td>{{.Due.StudentID}}</td></tr>
<tr><td>Billing Period</td><td>{{printf "%02d/%04d" .Due.Month .Due.Year}}</td></tr>
<tr><td>Base Fee</td><td>{{printf "%.2f" .Due.BaseFee}}</td></tr>
<tr><td>Late Fee</td><td>{{printf "%.2f" .Due.LateFee}}</td></tr>
<tr><td>Discount</td><td>{{printf "%.2f" .Due.Discount}}</td></tr>
<tr class="total"><td>Amount Paid</td><td>{{printf "%.2f" .Payment.Amount}}</td></tr>
<tr><td>Method</td><td>{{.Payment.Method}}</td></tr>
<tr><td>Transaction</td><td>{{.Payment.TransactionID}}</td></tr>
<tr><td>Paid At</td><td>{{.Payment.PaidAt.Format "2006-01-02 15:04"}}</td></tr>
</table>
</body>
</html>`))

// PDFRenderer converts HTML to PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Renderer produces receipt PDFs and stores them on local disk.
type Renderer struct {
	pdf PDFRenderer
	dir string
}

// NewRenderer builds a Renderer writing artifacts under dir.
func NewRenderer(pdf PDFRenderer, dir string) *Renderer {
	return &Renderer{pdf: pdf, dir: dir}
}

// Render writes the receipt PDF for a settled payment and returns the
// artifact path.
func (r *Renderer) Render(ctx context.Context, payment ledger.Payment, due ledger.Due) (string, error) {
	var buf bytes.Buffer
	err := receiptTemplate.Execute(&buf, struct {
		Payment ledger.Payment
		Due     ledger.Due
	}{Payment: payment, Due: due})
	if err != nil {
		return "", fmt.Errorf("receipt: build html: %w", err)
	}

	pdf, err := r.pdf.RenderHTML(ctx, buf.String())
	if err != nil {
		return "", fmt.Errorf("receipt: render pdf: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	name := due.ReceiptNumber
	if name == "" {
		name = fmt.Sprintf("payment-%d", payment.ID)
	}
	path := filepath.Join(r.dir, name+".pdf")
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
