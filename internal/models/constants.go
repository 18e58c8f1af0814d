package models

const (
	// GreetingRegex matches short salutations at the start of a message.
	// Go's \b is ASCII only, so the trailing boundary is spelled out to
	// keep words like "günaydın" matching. (?i) does not fold the Turkish
	// dotted and dotless I, so those letters are listed explicitly.
	GreetingRegex = `(?i)^\s*(merhaba|selam|günayd[ıI]n|[iİ]y[iİ]\s*günler|[iİ]y[iİ]\s*akşamlar|hello|hi)(?:[^\p{L}\p{N}_]|$)`

	// CitationTagRegex matches bracketed file references the model should not emit
	CitationTagRegex = `(?i)[ \t]*\[[^\]]+\.(?:pdf|docx?|xlsx|md|txt)\][ \t]*`

	ContextSeparator = "\n\n"
	HeaderFormat     = "%s - Parça %d"
)

// Canned replies. All of them can be overridden from the messages section of
// the config file.
const (
	DefaultDomain        = "Selçuk Üniversitesi"
	DefaultLanguage      = "Turkish"
	DefaultPersona       = "Sen Selçuk Üniversitesi öğrenci işlerinde uzman bir asistansın."
	DefaultEmptyQuestion = "Bir soru yazar mısın?"
	DefaultGreeting      = "Merhaba 👋 Selçuk Üniversitesi ile ilgili bir sorunuz varsa yardımcı olabilirim."
	DefaultNoInformation = "Bu konuda yönetmeliklerde net bir bilgi bulamadım. Soruyu biraz daha detaylandırır mısın?"
	DefaultRefusal       = "Üzgünüm yalnızca Selçuk Üniversitesi ile ilgili sorulara cevap verebilirim."
)

var (
	// AnswerPromptTemplate arguments: context, question, language, domain,
	// refusal sentence, maximum number of list items.
	AnswerPromptTemplate = `Answer the question using only the regulation excerpts below.

REGULATION EXCERPTS:
%[1]s

QUESTION: %[2]s

RULES:
- Answer in %[3]s. Keep it short and clear.
- Only answer questions about regulations and procedures of %[4]s.
- If the question is unrelated, reply with exactly this sentence: "%[5]s"
- Never mention file names, PDF names or bracketed source tags.
- Do not write long lists; use at most %[6]d items.

ANSWER:`
)
