package advisor

// SystemPromptRemediation frames the model as an e-invoicing consultant
const SystemPromptRemediation = `You are an expert on German electronic invoicing (E-Rechnung).
You know XRechnung 3.0, ZUGFeRD 2.x / Factur-X, EN 16931 and the German VAT rules
(Umsatzsteuergesetz, §14 UStG).

You receive findings of an automated compliance check. For every finding explain in
plain language what is wrong and how the invoice issuer fixes it in their records.
Be concrete and short: at most three sentences per finding. Answer in %s.
Never invent findings that are not listed. Always output valid JSON.`

// UserPromptRemediation lists the findings; %s is replaced by the findings block
const UserPromptRemediation = `Invoice %s was checked against %s. Score: %d/100.

Findings:
%s

Output JSON with this structure:
{
  "summary": "string (one paragraph for the whole invoice)",
  "advice": [
    {"ruleId": "string", "explanation": "string", "steps": ["string"]}
  ]
}`
