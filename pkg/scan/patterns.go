package scan

// builtinPatterns is the compiled-in matcher library. Expressions are
// case-insensitive RE2 and run against normalized text (see Normalize).
// Exclusions veto the whole pattern, which keeps documented denials
// ("denies SI") from firing safety alerts.
var builtinPatterns = []Pattern{
	// Self-harm risk
	{
		ID:          "self-harm-euphemism",
		Category:    CategorySelfHarm,
		Title:       "Safety Language Detected",
		Description: "Passive death-wish or euphemistic safety language",
		Suggestion:  "Document ideation, plan, intent, protective factors, and clinical assessment",
		Expressions: []string{
			`(?i)\b(power down|not.{0,10}be a person|disappear|go away|not wake up|end it all|no point)\b`,
			`(?i)\b(dark thoughts?|dark place)\b`,
		},
		Exclusions: []string{
			`(?i)\bdenied\b.{0,30}\b(dark|thoughts?|ideation)\b`,
			`(?i)\b(no|denies|denied).{0,20}\b(suicid|si|ideation)\b`,
		},
	},
	{
		ID:          "self-harm-rehearsal",
		Category:    CategorySelfHarm,
		Title:       "Suicide Rehearsal Imagery",
		Description: "Specific location or method visualization suggests elevated risk",
		Suggestion:  "Assess frequency, intensity, and controllability of imagery; complete full safety assessment",
		Expressions: []string{
			`(?i)\b(imagine|imagines|imagining|think about|picture|visualize).{0,25}(bridge|building|roof|ledge|tracks|train|highway|overpass)\b`,
			`(?i)\b(rehearsal|rehearse|practice|practiced).{0,20}(dying|death|suicide|ending)\b`,
			`(?i)\b(know (exactly )?how|figured out|planned).{0,15}(do it|end it|die)\b`,
		},
	},
	{
		ID:          "self-harm-means-access",
		Category:    CategorySelfHarm,
		Title:       "Means Access - Clarification Needed",
		Description: "Lethal means mentioned with ambiguous access status",
		Suggestion:  "Clarify actual access; document means restriction counseling; assess willingness to restrict",
		Expressions: []string{
			`(?i)\b(clean(ed|ing)?|load(ed|ing)?|check(ed|ing)?|look(ed|ing) at).{0,15}(gun|firearm|pistol|rifle|weapon)\b`,
			`(?i)\b(stockpil|sav(ed|ing)|collect(ed|ing)).{0,15}(pill|medication|med|prescription)\b`,
			`(?i)\b(know where|access to).{0,15}(gun|weapon|pills|medication)\b`,
		},
	},

	// Harm to others
	{
		ID:          "harm-threat",
		Category:    CategoryHarmToOther,
		Title:       "Potential Violence Language",
		Description: "Language suggesting potential harm to others",
		Suggestion:  "Document target, plan, intent, means, and duty-to-warn consideration",
		Expressions: []string{
			`(?i)\b(want to|going to|plan to|will|gonna)\b.{0,15}\b(kill|attack|shoot|stab|beat)\b`,
			`(?i)\b(learn not to mess|teach them a lesson|make them pay|get even|revenge)\b`,
		},
		Exclusions: []string{
			`(?i)\b(hurt|harm).{0,20}\b(later|reputation|case|career|chances|application)\b`,
		},
	},
	{
		ID:          "harm-identified-victim",
		Category:    CategoryHarmToOther,
		Title:       "Potential Threat to Identifiable Third Party",
		Description: "Content suggests a threat to an identifiable person",
		Suggestion:  "Assess credibility and imminence; determine whether a duty to warn applies; document assessment and actions",
		Expressions: []string{
			`(?i)\b(want|plan|going|gonna|will|intend).{0,15}(to )?(kill|shoot|stab|attack|hurt|harm).{0,20}(my|his|her|the|their).{0,15}(wife|husband|spouse|partner|ex|boss|neighbor|coworker|mother|father|brother|sister)\b`,
			`(?i)\b(bought|getting|have|got).{0,15}(gun|weapon|knife).{0,30}(for|use on|against)\b`,
		},
		Exclusions: []string{
			`(?i)\b(denied|denies|no plan|no intent|no identified|general|non-specific|hypothetical)\b`,
			`(?i)\b(warn|warned|notified|contacted).{0,15}(potential victim|police|authorities)\b`,
		},
	},
	{
		ID:          "harm-escalation",
		Category:    CategoryHarmToOther,
		Title:       "Threat Escalation Pattern",
		Description: "Content suggests escalating risk of violence toward others",
		Suggestion:  "Complete a violence risk assessment; document risk factors, protective factors, and interventions",
		Expressions: []string{
			`(?i)\b(next time|if.{0,10}again|won't stop|can't stop).{0,20}(hurt|harm|kill|attack|violent)\b`,
			`(?i)\b(closer|close).{0,10}(to )?(doing|acting|carrying out|following through)\b.{0,20}(threat|plan|idea)\b`,
		},
		Exclusions: []string{
			`(?i)\b(denied|denies|no plan|de-escalating|improving|better control)\b`,
		},
	},

	// Abuse indicators
	{
		ID:          "abuse-child",
		Category:    CategoryAbuse,
		Title:       "Potential Child Abuse/Neglect",
		Description: "Content suggests possible child abuse or neglect; mandatory reporting may apply",
		Suggestion:  "Review mandatory reporting requirements for your jurisdiction; document concerns, source, and actions taken",
		Expressions: []string{
			`(?i)\b(child|minor|kid|son|daughter).{0,30}(abuse|abused|abusing|neglect|neglected|hit|hitting|beat|beaten|hurt|harmed)\b`,
			`(?i)\b(bruise|mark|injury|burn|welt|scar).{0,30}(unexplained|suspicious|couldn't explain|won't explain|no explanation)\b`,
			`(?i)\b(afraid|scared|frightened).{0,20}(go home|of parent|of dad|of mom|of father|of mother)\b`,
		},
		Exclusions: []string{
			`(?i)\b(denied|denies|no evidence|no indication|not substantiated|unfounded)\b.{0,30}\b(abuse|neglect)\b`,
			`(?i)\b(reported to|notified|contacted).{0,15}(child protective|authorities|police)\b`,
		},
	},
	{
		ID:          "abuse-elder",
		Category:    CategoryAbuse,
		Title:       "Potential Elder Abuse/Neglect",
		Description: "Content suggests possible elder abuse, neglect, or financial exploitation",
		Suggestion:  "Review adult protective services reporting requirements; document concerns and actions taken",
		Expressions: []string{
			`(?i)\b(elder|elderly|senior|older adult|aging parent|grandmother|grandfather).{0,30}(abuse|abused|neglect|neglected|exploit|exploited|mistreat)\b`,
			`(?i)\b(caregiver|family member|aide|nursing home|facility).{0,30}(neglect|mistreat|exploit|abuse|steal|taking money)\b`,
		},
		Exclusions: []string{
			`(?i)\b(denied|denies|no evidence|no indication)\b.{0,30}\b(abuse|neglect|exploitation)\b`,
		},
	},
	{
		ID:          "abuse-vulnerable-adult",
		Category:    CategoryAbuse,
		Title:       "Vulnerable Adult Concern",
		Description: "Content suggests potential abuse or neglect of a vulnerable adult",
		Suggestion:  "Review reporting requirements for vulnerable adults in your jurisdiction; document concerns and actions",
		Expressions: []string{
			`(?i)\b(disabled|disability|developmental|intellectual disability|dependent adult).{0,30}(abuse|abused|neglect|neglected|exploit|mistreat)\b`,
			`(?i)\b(group home|residential facility|day program).{0,30}(abuse|neglect|mistreat|restraint|seclusion)\b`,
		},
		Exclusions: []string{
			`(?i)\b(denied|denies|no evidence|reported to)\b`,
		},
	},

	// Substance use
	{
		ID:          "substance-ambiguous",
		Category:    CategorySubstanceUse,
		Title:       "Substance Use Concern",
		Description: "Ambiguous or concerning substance use",
		Suggestion:  "Clarify substance type and assess safety",
		Expressions: []string{
			`(?i)\b(taking|using).{0,15}(whatever.?s around|something|anything|stuff).{0,15}(sleep|knock|out|relax)\b`,
			`(?i)\bleftover.{0,15}(medication|meds|pills|stuff)\b`,
			`(?i)\ba little something.{0,10}(sleep|calm|relax)\b`,
		},
	},

	// Other clinical risk
	{
		ID:          "clinical-driving-dissociation",
		Category:    CategoryClinicalRisk,
		Title:       "Dissociation While Driving",
		Description: "Reported dissociative episodes while operating a vehicle",
		Suggestion:  "Document driving safety counseling; assess capacity and impairment; create an emergency plan for recurrence",
		Expressions: []string{
			`(?i)\b(drive|driving|drove).{0,25}(don.?t remember|can.?t remember|blank|blackout|lost time)\b`,
			`(?i)\b(dissociat|zoned out|spaced out|autopilot).{0,20}(driv|car|highway|road)\b`,
		},
	},
	{
		ID:          "clinical-substance-risk",
		Category:    CategoryClinicalRisk,
		Title:       "Substance Use + Risk Factors",
		Description: "Alcohol or substance use combined with dissociation or safety concerns",
		Suggestion:  "Complete a substance screen; document interaction with risk and impairment",
		Expressions: []string{
			`(?i)\b(shot|drink|beer|alcohol|drunk).{0,50}(dissociat|blackout|blank|don.?t remember)\b`,
			`(?i)\b(dissociat|blackout).{0,50}(shot|drink|beer|alcohol|drunk)\b`,
		},
	},
	{
		ID:          "clinical-capacity-concern",
		Category:    CategoryClinicalRisk,
		Title:       "Capacity Concern",
		Description: "Content suggests concerns about decision-making capacity",
		Suggestion:  "Consider a formal capacity evaluation; document the specific functional deficits observed",
		Expressions: []string{
			`(?i)\b(lacks|lacking|impaired|diminished|questionable).{0,20}(capacity|judgment|decision.?making|competence|competency)\b`,
			`(?i)\b(guardian|conservator|surrogate|power of attorney|healthcare proxy).{0,20}(needed|required|consider|recommend|suggested)\b`,
		},
		Exclusions: []string{
			`(?i)\b(has capacity|demonstrates capacity|decisional capacity intact|no impairment|fully competent)\b`,
		},
	},

	// Documentation integrity
	{
		ID:          "doc-omission-request",
		Category:    CategoryDocumentation,
		Title:       "Documentation Omission Request",
		Description: "Client requested content be omitted from the record",
		Suggestion:  "Document this request and your response per policy",
		Expressions: []string{
			`(?i)\b(don.?t|do not) want.{0,20}(in writing|in the (note|record|chart|file)|documented)\b`,
			`(?i)\b(off the record|between us|just between|our secret)\b`,
			`(?i)\bdon.?t (write|document|put|include|mention).{0,20}(down|this|that|it|about)\b`,
		},
	},
	{
		ID:          "doc-alteration-request",
		Category:    CategoryDocumentation,
		Title:       "Record Alteration Request",
		Description: "Request to modify or delete documentation",
		Suggestion:  "Explain the amendment policy; document the request",
		Expressions: []string{
			`(?i)\b(delete|erase|remove|take out|clean up).{0,20}(from|the|that|this|it|last|note|record)\b`,
			`(?i)\b(keep|make).{0,10}(it )?(vague|generic|brief)\b.{0,15}(going forward|from now)\b`,
		},
	},
	{
		ID:          "doc-coercion",
		Category:    CategoryDocumentation,
		Title:       "External Pressure to Under-Document",
		Description: "Client pressure to minimize or alter clinical documentation",
		Suggestion:  "Document the coercion attempt itself; explain documentation standards",
		Expressions: []string{
			`(?i)\bif you (write|document|put|include|note).{0,30}(ruin|destroy|hurt|damage|end).{0,15}(me|my|career|life|case)\b`,
			`(?i)\bdocument.{0,10}(no risk|stable|fine|ok|good)\b`,
		},
	},
	{
		ID:          "doc-placeholder",
		Category:    CategoryDocumentation,
		Title:       "Placeholder Text",
		Description: "Incomplete text detected",
		Suggestion:  "Replace the placeholder with actual content",
		Expressions: []string{
			`\[insert`,
			`\[TODO`,
			`\[PLACEHOLDER`,
			`\[NAME\]`,
			`\[DATE\]`,
			`XXX`,
		},
	},

	// Privacy
	{
		ID:          "privacy-recording",
		Category:    CategoryPrivacy,
		Title:       "Session Recording",
		Description: "Client indicated recording of the session",
		Suggestion:  "Clarify the recording policy; document consent status",
		Expressions: []string{
			`(?i)\b(record|recording|recorded).{0,15}(this |the )?(session|appointment|call)\b`,
			`(?i)\balready started recording\b`,
		},
	},
	{
		ID:          "privacy-insecure-channel",
		Category:    CategoryPrivacy,
		Title:       "Insecure Transmission Request",
		Description: "Request to send clinical content via a potentially insecure channel",
		Suggestion:  "Use approved channels; document the boundary response",
		Expressions: []string{
			`(?i)\b(send|email|text).{0,30}(personal email|gmail|yahoo|hotmail)\b`,
			`(?i)\b(email|text|send).{0,25}(details|notes|plan|summary|history)\b`,
		},
	},

	// Boundary
	{
		ID:          "boundary-contact",
		Category:    CategoryBoundary,
		Title:       "Between-Session Contact Request",
		Description: "Request for between-session contact",
		Suggestion:  "Clarify boundaries; document crisis resources",
		Expressions: []string{
			`(?i)\basked if.{0,10}(they |I )?can (message|text|call|contact|email)\b`,
			`(?i)\bcan I.{0,15}(message|text|call|email).{0,10}(you|between|outside)\b`,
		},
	},
	{
		ID:          "boundary-gift",
		Category:    CategoryBoundary,
		Title:       "Gift Offer/Exchange",
		Description: "Gift mentioned",
		Suggestion:  "Document the boundary response per policy",
		Expressions: []string{
			`(?i)\b(bring|brought|give|gave|get|got).{0,15}(something|gift|present|coffee|card|flowers)\b`,
			`(?i)\bsmall.{0,10}like (coffee|card|gift|something)\b`,
		},
	},
	{
		ID:          "boundary-dependency",
		Category:    CategoryBoundary,
		Title:       "Dependency Language",
		Description: "Strong attachment or dependency expressed",
		Suggestion:  "Consider discussing the client's support network",
		Expressions: []string{
			`(?i)\b(best part of|favorite part of|look forward to).{0,15}(my |their )?(week|day)\b`,
			`(?i)\b(only (person|one)|you.?re the only).{0,20}\b(understand|get|listen|care|help)\b`,
		},
	},
}
