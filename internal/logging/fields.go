package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供分类/策略/来源字段，供拦截请求日志复用。
func RequestFields(category, strategy, source, method, path string) logrus.Fields {
	return logrus.Fields{
		"category": category,
		"strategy": strategy,
		"source":   source,
		"method":   method,
		"path":     path,
		"offline":  source == "offline",
	}
}

// TaskFields 描述一个后台同步任务。
func TaskFields(tag, id, method, endpoint string, retries int) logrus.Fields {
	return logrus.Fields{
		"action":      "sync",
		"sync_tag":    tag,
		"task_id":     id,
		"method":      method,
		"endpoint":    endpoint,
		"retry_count": retries,
	}
}
