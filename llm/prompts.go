package llm

import (
	"fmt"

	"github.com/santiagomed/plmgen/tree"
)

func getSystemPrompt() string {
	return `You are an experienced manufacturing and product data engineer. You produce realistic industrial item definitions, engineering bills of material and requirement specifications that can be loaded into a PLM system.

Use concise, specific names of the kind found on drawings and in ERP systems. Descriptions are one sentence. Never invent part numbers.

When asked for JSON, return only the JSON object, without markdown code blocks or commentary.`
}

func getRefinePrompt(description string, kind tree.Kind) string {
	var focus string
	switch kind {
	case tree.KindBOM:
		focus = "the product's functional assemblies, the sub-assemblies and parts inside each, and the standard hardware that joins them"
	case tree.KindRequirements:
		focus = "the stakeholders, operating environment, performance targets, interfaces, safety and regulatory constraints"
	default:
		focus = "the families of parts, raw materials and purchased components such a product range needs"
	}
	return fmt.Sprintf(`Based on this request: "%s"

Write a short engineering brief (at most 200 words) describing %s.

Use plain text paragraphs. Do not use markdown headings.`, description, focus)
}

func getItemsPrompt(details string, count int) string {
	return fmt.Sprintf(`Based on the following engineering brief:

%s

Generate %d distinct industrial items. Each item has:
- "name": a short item name (max 64 characters)
- "description": one sentence
- "type": one of "Item", "Part", "Design", "Document"

Return a JSON object with a single key "items" whose value is an array of item objects. For example:

{"items":[{"name":"Hex Bolt M8x40","description":"Zinc plated steel hex bolt, property class 8.8.","type":"Part"}]}

The key MUST be named "items"`, details, count)
}

func getBOMPrompt(details string, depth int) string {
	return fmt.Sprintf(`Based on the following engineering brief:

%s

Generate an engineering bill of material as a tree, at most %d levels deep including the top assembly. Each node has:
- "name": a short item name (max 64 characters)
- "description": one sentence
- "type": "Item" for assemblies, "Part" for piece parts
- "children": an array of child nodes (omit or leave empty for leaf parts)

List each distinct component once per parent; do not express quantities as repeated nodes.

Return a JSON object with a single key "bom" whose value is the top assembly node. For example:

{"bom":{"name":"Gear Pump","description":"External gear pump.","type":"Item","children":[{"name":"Pump Housing","description":"Cast iron housing.","type":"Part"}]}}

The key MUST be named "bom"`, details, depth)
}

func getRequirementsPrompt(details string) string {
	return fmt.Sprintf(`Based on the following engineering brief:

%s

Write a requirement specification. Group requirements under headings such as "Performance", "Interfaces", "Safety" and "Environment". Each node has:
- "name": a requirement identifier and title, for example "REQ-PERF-001 Flow rate"
- "description": the requirement text using "shall"
- "children": nested requirements, if any

Return a JSON object with a single key "requirements" whose value is an array of heading nodes. For example:

{"requirements":[{"name":"Performance","description":"Performance requirements.","children":[{"name":"REQ-PERF-001 Flow rate","description":"The pump shall deliver 40 l/min at 10 bar."}]}]}

The key MUST be named "requirements"`, details)
}
