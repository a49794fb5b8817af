package history

import "time"

// Record is one analysed image: written once by the analyze flow, then
// annotated by follow-up questions.
type Record struct {
	ID          ID        `json:"_id"`
	ImageBase64 string    `json:"image_base64"`
	Caption     string    `json:"caption"`
	Report      string    `json:"report"`
	QAHistory   []QAEntry `json:"qa_history"`
	CreatedAt   time.Time `json:"created_at"`
}

// QAEntry is a single follow-up question and the answer generated for it.
type QAEntry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Time     time.Time `json:"time"`
}

// clone returns a deep copy so stores never hand out their internal slices.
func (r Record) clone() Record {
	out := r
	out.QAHistory = append(make([]QAEntry, 0, len(r.QAHistory)), r.QAHistory...)
	return out
}
