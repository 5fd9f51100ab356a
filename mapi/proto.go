package mapi

// Line markers and start-of-header tags of the MAPI response grammar.
// Each server line is classified by its first byte.
const (
	markSOHeader = '&' // start of a result header
	markHeader   = '%' // column metadata
	markTuple    = '[' // one data row
	markError    = '!' // server error
	markRedirect = '^' // handshake redirect
	markInfo     = '#' // informational, ignored
	markPrompt   = 1   // explicit prompt byte, end of response
)

// Start-of-header subtypes, the byte following '&'.
const (
	sohTable   = '1' // &1 id tuplecount columncount rowsinblock
	sohUpdate  = '2' // &2 affected lastid
	sohSchema  = '3' // &3
	sohTrans   = '4' // &4 t|f  (t = auto-commit enabled)
	sohPrepare = '5'
	sohBlock   = '6' // &6 id columncount rowcount offset
)

// protocolVersion is the only MAPI handshake version this engine speaks.
const protocolVersion = 9

// clientEndianness is sent in the credentials line. The engine always
// produces little-endian framing.
const clientEndianness = "LIT"

// nullToken is the bare tuple token denoting SQL NULL.
const nullToken = "NULL"

// Language selects the protocol dialect requested during the handshake and
// the templates wrapped around outgoing statements.
type Language string

const (
	// LanguageSQL is the SQL dialect.
	LanguageSQL Language = "sql"
	// LanguageMAL is the low-level MAL command language.
	LanguageMAL Language = "mal"
)

// queryTemplate wraps a statement in the language's query envelope.
func (l Language) queryTemplate(statement string) string {
	switch l {
	case LanguageMAL:
		return statement + ";\n"
	default:
		return "s" + statement + "\n;\n"
	}
}

// commandTemplate wraps a control command (reply_size, export, close,
// auto_commit) in the language's command envelope. MAL has no control
// commands; they pass through bare.
func (l Language) commandTemplate(command string) string {
	switch l {
	case LanguageMAL:
		return command + "\n"
	default:
		return "X" + command + "\n"
	}
}
