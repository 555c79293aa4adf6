package config

type WorkerKeyStruct struct {
	PersistAuditQueue         string
	PersistAnswersQueue       string
	PersistQuestionOrderQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAuditQueue:         "persist_audit_queue",
	PersistAnswersQueue:       "persist_answers_queue",
	PersistQuestionOrderQueue: "persist_question_order_queue",
}
