package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var delegationPhrase = regexp.MustCompile(`(?i)\b(per conto di|per conto del(?:la)?|a nome di|a nome del(?:la)?|per il cliente|per la cliente|on behalf of|acting for)\s+`)

var endDelegationPhrase = regexp.MustCompile(`(?i)\b(torna(?:re)? (?:al|sul|nel) mio (?:workspace|account|profilo)|basta (?:con la |con le )?delegh?(?:a|e|azione)|fine (?:della )?delega(?:zione)?|(?:termina|chiudi|disattiva|interrompi|annulla) (?:la )?delega(?:zione)?|smetti di operare per|back to my (?:own )?(?:workspace|account)|stop acting (?:for|on behalf)|end (?:the )?delegation)\b`)

// maxNameTokens bounds the extracted name fragment.
const maxNameTokens = 5

// nameStopWords end a name fragment: verbs, question words and articles
// that start the actual request.
var nameStopWords = map[string]bool{
	"quanto": true, "quanti": true, "quale": true, "quali": true, "come": true, "dove": true,
	"quando": true, "che": true, "chi": true, "cosa": true, "perché": true, "perche": true,
	"questo": true, "questa": true,
	"crea": true, "creare": true, "fammi": true, "fai": true, "voglio": true, "vorrei": true,
	"devo": true, "calcola": true, "mostra": true, "mostrami": true, "dimmi": true,
	"prepara": true, "spedisci": true, "spedire": true, "prenota": true, "manda": true,
	"preventivo": true, "annulla": true, "traccia": true, "controlla": true,
	"un": true, "una": true, "uno": true, "il": true, "lo": true, "la": true, "i": true,
	"gli": true, "le": true, "per": true, "a": true, "di": true, "da": true, "con": true,
	"how": true, "what": true, "create": true, "show": true, "get": true, "book": true,
	"ship": true, "send": true, "quote": true,
}

// DelegationRequest is an "on behalf of <name>" clause found in a message.
type DelegationRequest struct {
	Phrase    string // matched phrase, e.g. "per conto di"
	Name      string // free-text name fragment after the phrase
	Remainder string // message with the delegation clause removed
}

// DetectDelegation finds an "on behalf of" clause and extracts the name
// fragment that follows it. It reports false when no phrase is present or
// no name follows the phrase.
func DetectDelegation(text string) (DelegationRequest, bool) {
	loc := delegationPhrase.FindStringSubmatchIndex(text)
	if loc == nil {
		return DelegationRequest{}, false
	}

	phrase := strings.ToLower(text[loc[2]:loc[3]])
	name, after := extractName(text[loc[1]:])
	if name == "" {
		return DelegationRequest{}, false
	}
	// "per il cliente finale" is ordinary phrasing: these phrases only
	// delegate when a proper name follows.
	if strings.HasSuffix(phrase, "cliente") && !startsUpper(name) {
		return DelegationRequest{}, false
	}

	remainder := text[:loc[0]] + " " + strings.TrimLeft(after, " ,;:")
	return DelegationRequest{
		Phrase:    phrase,
		Name:      name,
		Remainder: strings.Join(strings.Fields(remainder), " "),
	}, true
}

// DetectEndDelegation reports whether text asks to stop acting for a
// sub-account and return to the operator's own workspace.
func DetectEndDelegation(text string) bool {
	return endDelegationPhrase.MatchString(text)
}

// extractName splits s into the leading name fragment and what follows it.
// The fragment ends at punctuation, at a stop word or after maxNameTokens words.
func extractName(s string) (name, after string) {
	segment, tail := s, ""
	if cut := strings.IndexAny(s, ",.;:?!()\n"); cut >= 0 {
		segment, tail = s[:cut], s[cut:]
	}
	words := strings.Fields(segment)
	n := 0
	for n < len(words) && n < maxNameTokens && !nameStopWords[strings.ToLower(words[n])] {
		n++
	}
	return strings.Join(words[:n], " "), strings.Join(words[n:], " ") + tail
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimLeft(s, `"'«“`))
	return unicode.IsUpper(r)
}
