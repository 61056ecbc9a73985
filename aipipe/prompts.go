package aipipe

// Prompt override keys accepted in settings under "prompts". An override
// replaces the instruction text; the entry content is always appended
// after it.
const (
	PromptGrammar         = "grammar"
	PromptClassification  = "classification"
	PromptSummaryText     = "summary_text"
	PromptSummaryLink     = "summary_link"
	PromptSummaryDocument = "summary_document"
	PromptSummaryImage    = "summary_image"
	PromptSummaryResearch = "summary_research"
)

const defaultGrammarPrompt = `Correct the spelling, grammar and punctuation of the note below.
Keep the author's wording and meaning. Use UK spelling. Never use an em dash.
Reply with the corrected text only, no commentary.`

const defaultClassificationPrompt = `You are classifying a captured note for a personal knowledge base.
Reply with a single JSON object, no markdown fences, with these fields:
  "entity": one of "project", "task", "knowledge", "unclassified"
  "topics": up to 3 short topic labels (reuse existing topics when they fit)
  "people": names of people mentioned, possibly empty
Use "task" only when the note describes something to be done.`

const defaultSummaryTextPrompt = `Summarise the captured note below in one or two sentences.
Use UK spelling. Never use an em dash. Reply with the summary only.`

const defaultSummaryResearchPrompt = `The note below is a longer piece of research or writing.
Summarise its argument and key points in at most four sentences.
Use UK spelling. Never use an em dash. Reply with the summary only.`

const defaultSummaryLinkPrompt = `Summarise the web page below in two or three sentences,
focusing on what it is about and why someone saved it.
Use UK spelling. Never use an em dash. Reply with the summary only.`

const defaultSummaryDocumentPrompt = `Summarise the document below in two or three sentences.
Use UK spelling. Never use an em dash. Reply with the summary only.`

const defaultSummaryImagePrompt = `Describe what this screenshot shows in one or two sentences,
including any readable text that matters. Use UK spelling. Never use an
em dash. Reply with the description only.`

var defaultPrompts = map[string]string{
	PromptGrammar:         defaultGrammarPrompt,
	PromptClassification:  defaultClassificationPrompt,
	PromptSummaryText:     defaultSummaryTextPrompt,
	PromptSummaryLink:     defaultSummaryLinkPrompt,
	PromptSummaryDocument: defaultSummaryDocumentPrompt,
	PromptSummaryImage:    defaultSummaryImagePrompt,
	PromptSummaryResearch: defaultSummaryResearchPrompt,
}

// route decides which summary treatment an entry type gets.
type route int

const (
	routeNone route = iota
	routeText
	routeResearch
	routeLink
	routeDocument
	routeImage
	routeAudio
)

var typeRoutes = map[string]route{
	"screenshot": routeImage,
	"image":      routeImage,

	"long-note": routeResearch,

	"audio": routeAudio,

	"pdf":           routeDocument,
	"markdown":      routeDocument,
	"ms-word":       routeDocument,
	"ms-excel":      routeDocument,
	"ms-powerpoint": routeDocument,
	"ms-onenote":    routeDocument,

	"link":       routeLink,
	"chatgpt":    routeLink,
	"claude":     routeLink,
	"perplexity": routeLink,
	"notion":     routeLink,

	"snippet": routeText,
	"note":    routeText,
	"para":    routeText,
	"idea":    routeText,

	"video": routeNone,
}

// summaryRoute maps an entry type to its treatment. Unknown types get
// the plain text treatment.
func summaryRoute(entryType string) route {
	if r, ok := typeRoutes[entryType]; ok {
		return r
	}
	return routeText
}
