package intent

import (
	"regexp"
	"strings"
)

// Go's \b is ASCII-only, so alternatives ending in an accented letter are
// followed by (?:\W|$) instead.

var bookingConfirmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(procedi|conferma|confermare|confermo|procedo|prenota|ordina)\b`),
	regexp.MustCompile(`(?i)\b(si|sì)(?:\W|$)\s*,?\s*(procedi|conferma|prenota)`),
	regexp.MustCompile(`(?i)^\s*(ok|va\s*bene|d'accordo|perfetto)\b`),
	regexp.MustCompile(`(?i)\b(go ahead|book it|confirm)\b`),
}

var negationPattern = regexp.MustCompile(`(?i)\b(no|non|annulla|lascia stare|lascia perdere|aspetta|stop)\b`)

// IsBookingConfirmation reports whether text confirms one of the quotes
// pending in the session. Without pending quotes nothing is confirmable.
func IsBookingConfirmation(text string, s SessionState) bool {
	if !s.HasPendingQuotes() || strings.TrimSpace(text) == "" {
		return false
	}
	if negationPattern.MatchString(text) {
		return false
	}
	return anyMatch(bookingConfirmPatterns, text)
}

var ocrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)destinatario\s*[:;]`),
	regexp.MustCompile(`(?i)indirizzo\s*[:;]`),
	regexp.MustCompile(`(?i)\bvia\s+[a-z]+`),
	regexp.MustCompile(`(?i)\bpiazza\s+[a-z]+`),
	regexp.MustCompile(`(?i)\bcorso\s+[a-z]+`),
	regexp.MustCompile(`(?i)\bcap\s*[:;]?\s*\d{5}`),
	regexp.MustCompile(`(?i)\d{5}\s+[a-z]+\s*\(?[a-z]{2}\)?`),
	regexp.MustCompile(`(?i)\btel(efono)?\.?\s*[:;]?\s*[\d\s\-+]{6,}`),
	regexp.MustCompile(`(?i)\bprov(incia)?\.?\s*[:;]?\s*[a-z]{2}\b`),
	regexp.MustCompile(`(?i)\b(nome|cognome)\s*[:;]`),
	regexp.MustCompile(`(?i)spedizione\s*a\s*[:;]`),
	regexp.MustCompile(`(?i)consegna\s*[:;]`),
	regexp.MustCompile(`(?i)peso\s*[:;]?\s*\d+[,.]?\d*\s*(kg|g)\b`),
}

// ocrMinPatterns is how many distinct address-label patterns a text needs
// before it is treated as pasted or scanned shipping data.
const ocrMinPatterns = 2

// IsOCRText reports whether text looks like extracted label or document text.
func IsOCRText(text string) bool {
	if len(strings.TrimSpace(text)) < 20 {
		return false
	}
	n := 0
	for _, p := range ocrPatterns {
		if p.MatchString(text) {
			n++
			if n >= ocrMinPatterns {
				return true
			}
		}
	}
	return false
}

var mentorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(architettura|codice sorgente|best practice|mentor|insegnami)\b`),
	regexp.MustCompile(`(?i)\bcome funziona (il sistema|la piattaforma|l'api|il codice|l'integrazione)\b`),
	regexp.MustCompile(`(?i)\b(consiglio|consigli|suggerimento) (tecnic|su come (integrare|configurare))`),
	regexp.MustCompile(`(?i)\bhow does (the )?(system|platform|api) work\b`),
}

// IsMentorRequest reports a technical or architectural question.
func IsMentorRequest(text string) bool { return anyMatch(mentorPatterns, text) }

var explainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(flusso|processo|workflow)\b.*\b(wallet|spedizione|pagamento|business)\b`),
	regexp.MustCompile(`(?i)\bspiega(mi)?\b.*\b(flusso|processo|workflow|business flow|modello)\b`),
	regexp.MustCompile(`(?i)\bspiega(mi)?\b.*\bcalcolo\b.*\b(margine|spread|ricavo)\b`),
	regexp.MustCompile(`(?i)\bcome\b.*\b(calcol|funziona)\w*\b.*\b(margine|spread|ricavo)\b`),
	regexp.MustCompile(`(?i)\bexplain\b.*\b(flow|process|margin)\b`),
}

// IsExplainRequest reports a question about a business flow.
func IsExplainRequest(text string) bool { return anyMatch(explainPatterns, text) }

var debugPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bperch(é|e'|e) non funziona`),
	regexp.MustCompile(`(?i)\b(debug|bug|stack ?trace|eccezione|exception)\b`),
	regexp.MustCompile(`(?i)\b(log|logs)\b`),
	regexp.MustCompile(`(?i)\bcosa (c'(è|e) che )?non va`),
	regexp.MustCompile(`(?i)\berrore (http |api |tecnico |di sistema |\d{3}\b)`),
	regexp.MustCompile(`(?i)\b(correggi|risolvi il bug|fix)\b`),
}

// IsDebugRequest reports a technical troubleshooting request. Generic
// "problema" or "aiuto" phrasing is left to the support detector.
func IsDebugRequest(text string) bool { return anyMatch(debugPatterns, text) }

var supportPatterns = []*regexp.Regexp{
	// tracking
	regexp.MustCompile(`(?i)\b(traccia|tracking|tracciamento|dove si trova|stato (della )?spedizione)\b`),
	regexp.MustCompile(`(?i)\bdov'?(e|è)(?:\W|$).*\b(pacco|spedizione|collo)\b`),
	// held at depot
	regexp.MustCompile(`(?i)\b(giacenza|fermo|bloccat[oa]|deposito|non consegnat[oa]|tentativo di consegna)\b`),
	// cancellation
	regexp.MustCompile(`(?i)\b(cancella|annulla|annullare|cancellare|storna|stornare|disdici)\b`),
	// refunds
	regexp.MustCompile(`(?i)\b(rimbors\w*|riaccredit\w*|indietro i soldi)\b`),
	// problems
	regexp.MustCompile(`(?i)\b(problema|errore|non funziona|non riesco|aiuto|assistenza|supporto|reclamo)\b`),
	// courier issues
	regexp.MustCompile(`(?i)\b(corriere|gls|brt|bartolini|poste|sda|ups|dhl|tnt|fedex)\b.*\b(problema|errore|ritardo|pers[oa]|smarrit\w*|danneggiat\w*)\b`),
	// failed delivery
	regexp.MustCompile(`(?i)\b(consegna fallita|destinatario assente|indirizzo errato)\b`),
	// cash on delivery
	regexp.MustCompile(`(?i)\b(contrassegno|cod|pagamento alla consegna)\b.*\b(problema|non pagat\w*|rifiutat\w*)\b`),
}

// IsSupportRequest reports a post-sale assistance request. A bare cancel
// command during a guided shipment creation belongs to that flow instead.
func IsSupportRequest(text string, s SessionState) bool {
	if s.CreationInProgress() && isCancelCommand(text) {
		return false
	}
	return anyMatch(supportPatterns, text)
}

var crmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(crm|lead|leads|prospect|prospects|pipeline|funnel)\b`),
	regexp.MustCompile(`(?i)\b(trattativ[ae]|clienti? potenzial[ei]|contatti commerciali|opportunit)`),
	regexp.MustCompile(`(?i)\b(stato|andamento) (dei|del) (clienti|cliente|lead)\b`),
}

// IsCRMRequest reports a sales-pipeline question.
func IsCRMRequest(text string) bool { return anyMatch(crmPatterns, text) }

var outreachPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(outreach|campagna|campagne|newsletter|mailing|follow[- ]?up)\b`),
	regexp.MustCompile(`(?i)\b(ricontatta|ricontattare|ricontattami)\b`),
	regexp.MustCompile(`(?i)\b(invia|manda|scrivi)\b.*\b(email|mail|messaggio|whatsapp|sms)\b.*\b(clienti|lead|contatti)\b`),
	regexp.MustCompile(`(?i)\bsequenza (di )?(email|messaggi)\b`),
}

// IsOutreachRequest reports a request to contact customers in bulk.
func IsOutreachRequest(text string) bool { return anyMatch(outreachPatterns, text) }

// PricingSignal grades how strongly a text asks for a price.
type PricingSignal int

const (
	// PricingNone means no pricing vocabulary at all.
	PricingNone PricingSignal = iota
	// PricingAmbiguous means pricing vocabulary without a destination or weight.
	PricingAmbiguous
	// PricingExplicit means pricing vocabulary plus a postal code or weight.
	PricingExplicit
)

var (
	pricingKeywords = regexp.MustCompile(`(?i)\b(preventiv[oi]|prezz[oi]|cost[oi]|costa|quanto viene|tariff[ae]|spedire|spedizione|quote|price|cost)\b`)
	pricingExclude  = regexp.MustCompile(`(?i)\b(report|fatturato|margin[ei]|ricav[oi]|guadagn[oi]|statistiche)\b`)
	postalCode      = regexp.MustCompile(`\b\d{5}\b`)
	weight          = regexp.MustCompile(`(?i)\b\d+([.,]\d+)?\s*(kg|chili|chilo|chilogrammi)\b`)
)

// ClassifyPricing returns the pricing signal of text. Reporting questions
// ("fatturato", "margine") never count as pricing.
func ClassifyPricing(text string) PricingSignal {
	if !pricingKeywords.MatchString(text) || pricingExclude.MatchString(text) {
		return PricingNone
	}
	if postalCode.MatchString(text) || weight.MatchString(text) {
		return PricingExplicit
	}
	return PricingAmbiguous
}

var (
	creationPatterns = regexp.MustCompile(`(?i)\b(voglio spedire|devo spedire|vorrei spedire|vorrei mandare|crea(re)? (una )?(nuova )?spedizione|nuova spedizione|manda(re)? un pacco|prenota(re)? (una )?spedizione|create (a )?shipment)\b`)
	creationExclude  = regexp.MustCompile(`(?i)\b(traccia|tracking|annulla|cancella|preventivo|prezzo|quanto costa)\b`)
)

// IsShipmentCreation reports a request to start a new shipment.
func IsShipmentCreation(text string) bool {
	return creationPatterns.MatchString(text) && !creationExclude.MatchString(text)
}

var cancelCommand = regexp.MustCompile(`(?i)^\s*(annulla|lascia perdere|lascia stare|basta|stop|ricomincia|cancel)\b`)

func isCancelCommand(text string) bool { return cancelCommand.MatchString(text) }

// IsShipmentCancel reports an abort of the creation flow in progress.
func IsShipmentCancel(text string, s SessionState) bool {
	return s.CreationInProgress() && isCancelCommand(text)
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
