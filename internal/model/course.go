package model

// Course 课程表 — 对应 courses
type Course struct {
	CourseID  string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"course_id"`
	Name      string `gorm:"type:varchar(200);not null"                     json:"name"`
	TeacherID string `gorm:"type:uuid;not null"                             json:"teacher_id"`
	SoftDeleteModel

	// 关联
	Teacher *User `gorm:"foreignKey:TeacherID;references:UserID" json:"teacher,omitempty"`
}

// TableName 指定表名
func (Course) TableName() string { return "courses" }

// CourseEnrollment 选课表 — 对应 course_enrollments
type CourseEnrollment struct {
	EnrollmentID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"enrollment_id"`
	CourseID     string `gorm:"type:uuid;not null;uniqueIndex:uniq_course_student" json:"course_id"`
	StudentID    string `gorm:"type:uuid;not null;uniqueIndex:uniq_course_student" json:"student_id"`
	BaseModel

	// 关联
	Student *User `gorm:"foreignKey:StudentID;references:UserID" json:"student,omitempty"`
}

// TableName 指定表名
func (CourseEnrollment) TableName() string { return "course_enrollments" }
