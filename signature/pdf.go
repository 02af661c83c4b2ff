package signature

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// ContractData is everything the membership contract template needs.
type ContractData struct {
	ProposalID string
	Name       string
	CPF        string
	BirthDate  string
	Email      string
	Roles      []string
	IssuedAt   time.Time
}

// AuditData feeds the post-signature audit trail document.
type AuditData struct {
	EnvelopeID      string
	ProposalID      string
	SignerName      string
	SignerMethod    string
	SignerIP        string
	SignerUserAgent string
	SignerGeo       string
	OriginalSHA256  string
	SignedSHA256    string
	CertSHA256      string
	SignedAt        time.Time
}

// Renderer produces the contract and audit PDFs.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) RenderContract(data ContractData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 12, tr("Contrato de Filiação"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Proposta", data.ProposalID},
		{"Nome", data.Name},
		{"CPF", data.CPF},
		{"Data de nascimento", data.BirthDate},
		{"E-mail", data.Email},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 8, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, tr(row[1]), "", 1, "L", false, 0, "")
	}
	for _, role := range data.Roles {
		pdf.CellFormat(0, 8, tr("Categoria: "+role), "", 1, "L", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 6, tr(
		"O(a) filiado(a) acima identificado(a) declara estar de acordo com o estatuto "+
			"da entidade e autoriza o tratamento dos dados pessoais informados para fins "+
			"de registro associativo."), "", "L", false)

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Emitido em %s", data.IssuedAt.Format("02/01/2006 15:04"))), "", 1, "L", false, 0, "")

	return render(pdf, "contract")
}

func (r *Renderer) RenderAuditTrail(data AuditData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 12, tr("Trilha de Auditoria de Assinatura"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Envelope", data.EnvelopeID},
		{"Proposta", data.ProposalID},
		{"Signatário", data.SignerName},
		{"Método", data.SignerMethod},
		{"Endereço IP", data.SignerIP},
		{"User-Agent", data.SignerUserAgent},
		{"Localização", data.SignerGeo},
		{"Hash do original", data.OriginalSHA256},
		{"Hash do assinado", data.SignedSHA256},
		{"Hash do certificado", data.CertSHA256},
		{"Concluído em", data.SignedAt.Format(time.RFC3339)},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(45, 7, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 7, row[1], "", "L", false)
	}

	return render(pdf, "audit trail")
}

func render(pdf *fpdf.Fpdf, what string) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("signature: render %s pdf: %w", what, err)
	}
	return buf.Bytes(), nil
}
