package ralph

import (
	"fmt"

	"coddy/internal/agent"
)

func branchFailedMessage(lang, branch string, err error) string {
	if lang == agent.LanguageRussian {
		return fmt.Sprintf("Не удалось создать ветку `%s`: %v", branch, err)
	}
	return fmt.Sprintf("Could not create branch `%s`: %v", branch, err)
}

func pushFailedMessage(lang, branch string, err error) string {
	if lang == agent.LanguageRussian {
		return fmt.Sprintf("Не удалось отправить ветку `%s`: %v", branch, err)
	}
	return fmt.Sprintf("Could not push branch `%s`: %v", branch, err)
}

func prFailedMessage(lang string, err error) string {
	if lang == agent.LanguageRussian {
		return fmt.Sprintf("Не удалось открыть пулл-реквест: %v", err)
	}
	return fmt.Sprintf("Could not open a pull request: %v", err)
}

func exhaustedMessage(lang string, iterations int) string {
	if lang == agent.LanguageRussian {
		return fmt.Sprintf("Остановлено после %d итераций без результата. Задаче нужно внимание.", iterations)
	}
	return fmt.Sprintf("Stopped after %d iterations without a result. This issue needs attention.", iterations)
}

func prCreatedMessage(lang, url string) string {
	if lang == agent.LanguageRussian {
		return "Открыт пулл-реквест: " + url
	}
	return "Pull request opened: " + url
}

func prBody(body string, number int) string {
	return fmt.Sprintf("%s\n\nCloses #%d", body, number)
}
