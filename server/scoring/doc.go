// Package scoring evaluates prompt quality with a language model.
//
// A Scorer builds a rubric-framed request (Builder), sends it through a
// Completer with model-specific parameters and bounded retries (Invoker),
// recovers a JSON object from the reply (Parse) and coerces it into a
// bounded Result (Normalizer). Parsed replies are memoized per schema
// version, model, language and prompt. Only feedback for the requested
// language is ever returned.
package scoring
