package mcpserver

// DiaryFormatContract describes how krecord stores diary entries on disk.
// LLM consumers read it before appending entries or uploading assets.
const DiaryFormatContract = `# krecord Diary Format Contract

Every diary entry is one Markdown file with YAML frontmatter.

## Location

` + "```" + `
content/<YYYY>/<YYYYMM>/<YYYYMMDD>/<slug>.md            top-level entry
content/<YYYY>/<YYYYMM>/<YYYYMMDD>/children/<slug>.md   entry with a parentId
content/<YYYY>/<YYYYMM>/<YYYYMMDD>/imgs|video|files/    assets of that day
` + "```" + `

The day folder is the UTC date of ` + "`occurredAt`" + `. Files placed elsewhere
are moved there by the next normalization sweep.

## Frontmatter

` + "```" + `markdown
---
id: diary-1718000000000       # assigned on append; never reuse
title: Morning run            # REQUIRED
tags: [sport]
attachments: [content/2024/202406/20240610/imgs/route.png]
occurredAt: 2024-06-10T07:30:00.000Z
parentId: null                # or the id of the parent entry
mood: good                    # optional
cover: ./imgs/route.png       # optional
---

Body in standard Markdown.
` + "```" + `

## Rules

1. Use the ` + "`append_diary`" + ` tool instead of writing files; it assigns the id and path.
2. ` + "`title`" + ` is required. Keys are written in the order shown above.
3. ` + "`occurredAt`" + ` is ISO-8601. Unparsable values fall back to the start of the current day.
4. Unknown frontmatter keys are kept as they are.
5. Link assets relative to the entry (` + "`./imgs/name.png`" + `) or root-relative
   (` + "`content/.../imgs/name.png`" + `). Upload them with ` + "`upload_asset`" + ` first.
6. Images go to ` + "`imgs/`" + `, videos to ` + "`video/`" + `, everything else to ` + "`files/`" + `.
7. Sheets rows link back to entries through ` + "`diaryRefs`" + `; see ` + "`list_sheets`" + `.
`
