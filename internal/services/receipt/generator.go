package receipt

import (
	"net/url"
	"strings"

	"github.com/eduvault/backend/internal/services/crypto"
	"github.com/eduvault/backend/internal/utils"
)

// Generator derives receipt links from ledger references
type Generator struct {
	publicURL   string
	explorerURL string
	signingKey  string
}

// NewGenerator creates a generator. publicURL is where this service's receipt
// route is reachable; explorerURL is a block explorer's transaction page prefix.
func NewGenerator(publicURL, explorerURL string) *Generator {
	return &Generator{
		publicURL:   strings.TrimRight(publicURL, "/"),
		explorerURL: strings.TrimRight(explorerURL, "/"),
	}
}

// WithSigningKey enables signed document links
func (g *Generator) WithSigningKey(key string) *Generator {
	g.signingKey = key
	return g
}

// Generate returns the receipt URL for ledgerReference. Chain transaction
// hashes link to the explorer, anything else to the local receipt page.
func (g *Generator) Generate(ledgerReference string) string {
	if g.explorerURL != "" && crypto.IsChainReference(ledgerReference) {
		return g.explorerURL + "/" + ledgerReference
	}
	return g.DocumentURL(ledgerReference)
}

// DocumentURL is the link to the rendered PDF receipt
func (g *Generator) DocumentURL(ledgerReference string) string {
	return g.publicURL + "/receipts/" + url.PathEscape(ledgerReference)
}

// SignedDocumentURL is a link to the PDF receipt that can be fetched without
// a student token, as messaging providers do when delivering an attachment.
// It is empty when no signing key or public URL is set.
func (g *Generator) SignedDocumentURL(ledgerReference string) string {
	if g.signingKey == "" || g.publicURL == "" || ledgerReference == "" {
		return ""
	}
	return g.DocumentURL(ledgerReference) + "/document?sig=" + utils.SignHMAC(ledgerReference, g.signingKey)
}

// VerifyDocumentSignature reports whether sig was issued for ledgerReference
func (g *Generator) VerifyDocumentSignature(ledgerReference, sig string) bool {
	if g.signingKey == "" || sig == "" {
		return false
	}
	return utils.VerifyHMAC(ledgerReference, sig, g.signingKey)
}
