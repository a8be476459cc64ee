package retain

import (
	"fmt"
	"strings"
)

const extractionSystemPrompt = "Extract ALL meaningful content. NEVER MISS USER REQUESTS - if user asks assistant to do something ('write...', 'create...', 'help me...'), extract BOTH request AND response as separate BANK facts! COMBINE simple informational Q&A. BANK facts: use 'I' for assistant actions ('I recommended'), use 'user'/name for user actions ('User requested', 'Marcus said'). CONVERT RELATIVE DATES TO SPECIFIC DATES ('last week' -> 'around Aug 16' NOT 'in August'!). factual_core = WHAT was said, not THAT something was said! fact_kind: 'conversation'/'event'/'other'. Only 'event' gets occurred dates. Optional fields: include 'entities', 'causal_relations', 'occurred_start', 'occurred_end', 'emotional_significance', 'reasoning_motivation', 'preferences_opinions', 'sensory_details', 'observations' only if they have meaningful values (can omit if not applicable)."

const factsOnlyInstruction = "Extract ONLY 'world' and 'assistant' type facts. DO NOT extract opinions - those are extracted separately."

const opinionsOnlyInstruction = "Extract ONLY 'opinion' type facts (formed opinions, beliefs, and perspectives). DO NOT extract 'world' or 'assistant' facts."

const extractionPromptTemplate = `You are extracting comprehensive, narrative facts from conversations/document for an AI memory system.

%s

## CONTEXT INFORMATION
- Context: %s%s

**TEMPORAL EXTRACTION**:
- **occurred_start/end** (OPTIONAL): Only extract these for specific events mentioned within the conversation
  - Example: "I'm hosting a party next month" - extract when the party will happen (resolve to absolute dates using the reference date)
  - Leave empty if no specific event timing is mentioned
  - Use the reference date to resolve relative time expressions to absolute ISO timestamps

## CORE PRINCIPLE: Extract ALL Meaningful Information Efficiently

**GOAL**: Capture ALL meaningful information, but combine related exchanges efficiently. Don't create separate facts for questions - merge Q&A into single facts.

Each fact should:
1. **CAPTURE ALL MEANINGFUL CONTENT** - Activities, projects, preferences, recommendations, encouragement WITH specific content
2. **BE SELF-CONTAINED** - Readable without the original text
3. **PRESERVE SPECIFIC CONTENT** - Capture WHAT was said, not just THAT something was said
4. **COMBINE Q&A** - A question and its answer = ONE fact, not two separate facts

## Q&A HANDLING

### WHEN TO COMBINE (simple informational questions):
- BAD (2 facts): "James asks what projects John is working on" / "John is working on a website for a local small business"
- GOOD (1 fact): "John is working on a website for a local small business; it's his first professional project outside of class"

### WHEN TO SPLIT (user requests/instructions to assistant):
When user asks assistant to DO something, extract BOTH facts separately:
1. "User requested a children's book about dinosaurs with image placeholders"
2. "I wrote a children's book titled 'The Amazing Adventures of Dinosaurs' with chapters about T-Rex, Pterodactyl, Plesiosaur, and Triceratops"

Rule: if user says "write...", "create...", "help me...", "explain...", extract user's request AND assistant's response as SEPARATE facts.

## WHAT TO SKIP (only these!)
- Pure filler with no content - "Always happy to help", "Sounds good", "Thanks!"
- Greetings - "Hey!", "What's up?"
- Standalone simple questions that are answered - merge informational Q&A, but DON'T skip user requests!
- Structural statements ("let's get started", "see you next time"), calls to action ("subscribe", "follow")

## ESSENTIAL DETAILS TO PRESERVE
1. **ALL PARTICIPANTS** - Who said/did what
2. **INDIVIDUAL PREFERENCES** - Each person's specific likes/favorites, with who has the preference
3. **FULL REASONING** - Why decisions were made, motivations, explanations
4. **TEMPORAL CONTEXT** - ALWAYS convert relative time references to SPECIFIC ABSOLUTE dates in the fact text:
   - "last week" (doc date Aug 23) -> "around August 16, 2023" (NOT just "in August 2023")
   - "yesterday" (doc date Aug 19) -> "on August 18, 2023"
   - "next week" (doc date Aug 19) -> "around August 26, 2023"
5. **VISUAL/MEDIA ELEMENTS** - Photos, images, videos shared
6. **MODIFIERS** - "new", "first", "old", "favorite"
7. **POSSESSIVE RELATIONSHIPS** - "their kids" -> "Person's kids"
8. **BIOGRAPHICAL DETAILS** - Origins, locations, jobs, family background
9. **SOCIAL DYNAMICS** - Nicknames, how people address each other, relationships

## STRUCTURED FACT DIMENSIONS

Each fact MUST be extracted into structured dimensions. Each dimension MUST be a complete, grammatically correct sentence that includes the subject and can stand alone. The dimensions are combined with " - " separators, so they must read naturally together.

### Required field:
- **factual_core**: ACTUAL FACTS - capture WHAT was said, not just THAT something was said.
  - BAD: "Jon received encouragement from Gina" (loses what Gina actually said)
  - GOOD: "Gina said Jon is the perfect mentor with positivity and determination; his studio will be a hit"

### Optional fields (include when present in text):
- **emotional_significance**: Emotions, feelings, personal meaning, qualitative descriptors. "Sarah felt thrilled about the opportunity", "This was her favorite memory from childhood"
- **reasoning_motivation**: WHY it happened, intentions, goals, causes. "She did this because she wanted to celebrate with friends", "He wrote the book to cope with grief"
- **preferences_opinions**: Likes, dislikes, beliefs, values, ideals. "Jon's favorite dance style is contemporary because it's expressive". Indicators: "ideal", "favorite", "dream", "perfect", "love", "hate", "prefer"
- **sensory_details**: Visual, auditory, physical descriptions. Use the EXACT adjectives from the text: if they said "awesome" don't write "amazing"
- **observations**: Things that can be inferred from the conversation. "doing the shoot in Miami" -> "Calvin traveled to Miami for the shoot"; "my trophy" -> "She won the trophy"

## TEMPORAL CLASSIFICATION (fact_kind field)

Do NOT confuse fact_kind with fact_type. These are DIFFERENT fields.

- **conversation**: General info, activities, preferences, ongoing things. NO occurred_start/end (leave null).
- **event**: Specific datable occurrence (competition, wedding, meeting, trip, loss, start/end of something). MUST set occurred_start/end.
- **other**: Anything else. NO occurred_start/end.

Rules:
1. ALWAYS include dates in fact text - "in January 2023", "on May 15, 2024"
2. Only 'event' gets occurred dates - conversation and other = null
3. SPLIT events from conversation facts - "Jon is expanding his studio (conversation) and hosting a competition next month (event)" -> 2 separate facts

## CAUSAL RELATIONSHIPS

When splitting related facts, link them with causal_relations:
- **causes**: This fact causes the target
- **caused_by**: This fact was caused by target
- **enables/prevents**: This fact enables/prevents the target

Only link when there's explicit or clear implicit causation ("because", "so", "therefore").

## FACT TYPE CLASSIFICATION

fact_kind = temporal nature (conversation/event/other); fact_type = who/what this is about (world/assistant).

The Rule: Everything NOT involving the assistant = 'world'.

- **'world'**: Facts that exist independently of assistant interactions. User's background, skills, preferences; other people's lives; events and facts. If it would still be true even if this conversation never happened -> world.
- **'assistant'**: Interactions BY or TO the assistant in THIS conversation. User's questions/requests TO assistant; assistant's actions/responses. Use "user" or their name for user's requests, FIRST PERSON ("I") for assistant's actions. If this only exists because of this conversation -> assistant.

Examples:
- "User worked at startup" -> world
- "User asked me about ClickUp" -> assistant
- "User has experience with Trello" -> world

Speaker attribution: if context gives your name, extract 'assistant' facts from both that name's lines and "Assistant:" lines.

## TEXT TO EXTRACT FROM:
%s

## CRITICAL REMINDERS:
1. NEVER MISS USER REQUESTS - extract BOTH the request AND the response as separate facts
2. Use "I" for assistant actions, "user" or their name for user actions
3. COMBINE simple informational Q&A; never merge user requests
4. CAPTURE ALL MEANINGFUL CONTENT - activities, encouragement (with specific words), recommendations, reactions, preferences
5. CONVERT RELATIVE DATES TO SPECIFIC DATES - be precise
6. CAPTURE WHAT WAS SAID - preserve the actual content
7. FACT_KIND DETERMINES OCCURRED DATES - only 'event' gets occurred_start/end
8. CAPTURE PREFERENCES - "ideal", "favorite", "love" -> preferences_opinions
9. CAPTURE EXACT ADJECTIVES -> sensory_details
10. CAPTURE OBSERVATIONS - infer travel, achievements, capabilities`

// buildExtractionPrompt assembles the per-chunk extraction prompt.
func buildExtractionPrompt(chunk, context, agentName string, opinionsOnly bool) string {
	instruction := factsOnlyInstruction
	if opinionsOnly {
		instruction = opinionsOnlyInstruction
	}
	if strings.TrimSpace(context) == "" {
		context = "no additional context provided"
	}
	var agentContext string
	if agentName != "" {
		agentContext = fmt.Sprintf("\n- Your name: %s", agentName)
	}
	return fmt.Sprintf(extractionPromptTemplate, instruction, context, agentContext, chunk)
}
